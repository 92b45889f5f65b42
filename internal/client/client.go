// Package client submits one job to the service and interprets the outcome.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rbright/argus/internal/fsm"
	"github.com/rbright/argus/internal/ipc"
	"github.com/rbright/argus/internal/lockmarker"
	"github.com/rbright/argus/internal/logging"
	"github.com/rbright/argus/internal/protocol"
	"github.com/rbright/argus/internal/report"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Config locates the service and bounds retries.
type Config struct {
	SocketPath       string
	LockPath         string
	ServerLogPath    string
	Attempts         int
	Backoff          time.Duration
	TailLines        int
	HandshakeTimeout time.Duration
	Limits           ipc.Limits
}

// Reporter persists a successful result and returns where it went.
type Reporter interface {
	Write(input string, result protocol.JobResult, debug bool) (string, error)
}

// Hooks are the client's external collaborators. Nil members are skipped.
type Hooks struct {
	StartService func(context.Context) error
	Reporter     Reporter
}

type dialFunc func(ctx context.Context, path string, timeout time.Duration, limits ipc.Limits) (*ipc.Channel, error)

// Client runs the connect/send/await machine with bounded retries.
type Client struct {
	cfg    Config
	out    io.Writer
	logger *slog.Logger
	hooks  Hooks

	dial  dialFunc
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// New constructs a client writing user-facing output to out.
func New(cfg Config, out io.Writer, logger *slog.Logger, hooks Hooks) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = 10
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cfg:    cfg,
		out:    out,
		logger: logger,
		hooks:  hooks,
		dial:   ipc.Dial,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// submission is the mutable state of one Submit call.
type submission struct {
	req      protocol.StartRequest
	state    fsm.ClientState
	attempt  int
	ch       *ipc.Channel
	exitCode int
}

// Submit sends input to the service and blocks until it answers or the
// retry budget is spent. It returns the process exit code.
func (c *Client) Submit(ctx context.Context, input string, debug bool) int {
	abs, err := filepath.Abs(input)
	if err != nil {
		fmt.Fprintf(c.out, "Cannot resolve %s: %v\n", input, err)
		return ExitFailure
	}

	s := &submission{
		req:      protocol.StartRequest{InputReference: abs, Debug: debug},
		state:    fsm.ClientConnecting,
		attempt:  1,
		exitCode: ExitFailure,
	}
	defer func() {
		if s.ch != nil {
			_ = s.ch.Close()
		}
	}()

	for !s.state.Terminal() {
		var event fsm.ClientEvent
		switch s.state {
		case fsm.ClientConnecting:
			event = c.connect(ctx, s)
		case fsm.ClientSending:
			event = c.send(s)
		case fsm.ClientAwaitingResult:
			event = c.await(s)
		case fsm.ClientRetry:
			event = c.retry(ctx, s)
		}

		next, err := fsm.ClientTransition(s.state, event)
		if err != nil {
			c.logger.Error("client state machine rejected event", "error", err.Error())
			return ExitFailure
		}
		c.logger.Debug("client transition", "from", s.state, "event", event, "to", next, "attempt", s.attempt)
		s.state = next
	}

	c.logger.Info("submission finished", "state", s.state, "exit_code", s.exitCode, "input", abs)
	return s.exitCode
}

func (c *Client) connect(ctx context.Context, s *submission) fsm.ClientEvent {
	ch, err := c.dial(ctx, c.cfg.SocketPath, c.cfg.HandshakeTimeout, c.cfg.Limits)
	switch {
	case err == nil:
		s.ch = ch
		return fsm.ClientEventConnected
	case errors.Is(err, ipc.ErrNotFound):
		fmt.Fprintln(c.out, "Trying to connect to service...")
		c.logger.Info("service not found; starting it", "attempt", s.attempt)
		if c.hooks.StartService != nil {
			if startErr := c.hooks.StartService(ctx); startErr != nil {
				c.logger.Warn("start service failed", "error", startErr.Error())
			}
		}
		return fsm.ClientEventNotFound
	case errors.Is(err, ipc.ErrBusy):
		c.logger.Info("service busy", "attempt", s.attempt)
		return fsm.ClientEventBusy
	default:
		fmt.Fprintf(c.out, "Connection error: %v\n", err)
		c.logger.Error("connect failed", "error", err.Error())
		return fsm.ClientEventFail
	}
}

func (c *Client) send(s *submission) fsm.ClientEvent {
	c.debugf(s, "Sending start message...")
	msg, err := protocol.NewStart(s.req)
	if err == nil {
		err = s.ch.Send(msg)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Failed to send job: %v\n", err)
		c.logger.Error("send start failed", "error", err.Error())
		return fsm.ClientEventFail
	}
	c.debugf(s, "...start message sent.")
	return fsm.ClientEventSent
}

func (c *Client) await(s *submission) fsm.ClientEvent {
	c.debugf(s, "Waiting on result message...")
	msg, err := s.ch.Recv()
	if err != nil {
		if errors.Is(err, ipc.ErrBroken) {
			fmt.Fprintln(c.out, "Server hit an error condition")
			c.printLogTail()
		} else {
			fmt.Fprintf(c.out, "Receive error: %v\n", err)
		}
		c.logger.Error("await result failed", "error", err.Error())
		return fsm.ClientEventFail
	}
	c.debugf(s, "...result message received.")

	switch msg.Type {
	case protocol.TypeResult:
		result, err := protocol.DecodeResult(msg)
		if err != nil {
			fmt.Fprintf(c.out, "Malformed result: %v\n", err)
			return fsm.ClientEventFail
		}
		s.exitCode = c.deliver(s, result)
		return fsm.ClientEventResult
	case protocol.TypeError:
		description, err := protocol.DecodeError(msg)
		if err != nil {
			fmt.Fprintf(c.out, "Malformed error reply: %v\n", err)
			return fsm.ClientEventFail
		}
		fmt.Fprintf(c.out, "Error encountered! %s\n", description)
		c.logger.Warn("job failed on server", "error", description)
		s.exitCode = ExitFailure
		return fsm.ClientEventErrorReply
	default:
		fmt.Fprintf(c.out, "Received message type %s that is neither result nor error\n", msg.Type)
		return fsm.ClientEventFail
	}
}

// deliver prints and persists a result; a report failure fails the job.
func (c *Client) deliver(s *submission, result protocol.JobResult) int {
	fmt.Fprintf(c.out, "PTX detected? %s\n", report.PTXDetected(result))
	if s.req.Debug && result.DebugFields != nil {
		c.debugf(s, "not sliding count: %d, sliding count: %d", result.NotSlidingCount, result.SlidingCount)
	}

	if c.hooks.Reporter == nil {
		return ExitSuccess
	}
	path, err := c.hooks.Reporter.Write(s.req.InputReference, result, s.req.Debug)
	if err != nil {
		fmt.Fprintf(c.out, "Failed to write detailed output: %v\n", err)
		c.logger.Error("write report failed", "error", err.Error())
		return ExitFailure
	}
	fmt.Fprintf(c.out, "Wrote detailed output to %s\n", path)
	return ExitSuccess
}

func (c *Client) retry(ctx context.Context, s *submission) fsm.ClientEvent {
	if s.attempt >= c.cfg.Attempts {
		c.explainExhausted()
		return fsm.ClientEventExhausted
	}
	if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
		fmt.Fprintf(c.out, "Interrupted: %v\n", err)
		return fsm.ClientEventFail
	}
	s.attempt++
	return fsm.ClientEventReconnect
}

// explainExhausted uses the lock marker to tell "starting" from "dead".
func (c *Client) explainExhausted() {
	status, err := lockmarker.Inspect(c.cfg.LockPath)
	if err != nil {
		c.logger.Warn("inspect lock marker failed", "error", err.Error())
	}
	c.logger.Warn("retries exhausted", "attempts", c.cfg.Attempts, "marker", status)

	switch status {
	case lockmarker.StatusHeld:
		fmt.Fprintln(c.out, "The service is still starting. Please wait a minute for it to finish loading.")
	case lockmarker.StatusStale:
		fmt.Fprintf(c.out, "The service is not running or exited abnormally (stale lock marker %s).\n", c.cfg.LockPath)
		fmt.Fprintf(c.out, "Please check %s for details.\n", c.cfg.ServerLogPath)
	default:
		fmt.Fprintln(c.out, "The service is not running or exited abnormally.")
		fmt.Fprintf(c.out, "Please check %s for details.\n", c.cfg.ServerLogPath)
	}
}

func (c *Client) printLogTail() {
	if c.cfg.ServerLogPath == "" {
		return
	}
	lines, err := logging.Tail(c.cfg.ServerLogPath, c.cfg.TailLines)
	if err != nil {
		c.logger.Debug("server log unavailable", "path", c.cfg.ServerLogPath, "error", err.Error())
		return
	}
	fmt.Fprintf(c.out, "Last few lines of server log file (%s):\n", c.cfg.ServerLogPath)
	for _, line := range lines {
		fmt.Fprintf(c.out, "\t%s\n", line)
	}
}

func (c *Client) debugf(s *submission, format string, args ...any) {
	if !s.req.Debug {
		return
	}
	fmt.Fprintf(c.out, "DEBUG [%s]: %s\n", c.now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
