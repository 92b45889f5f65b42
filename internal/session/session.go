// Package session runs one job per accepted channel and replies exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rbright/argus/internal/ipc"
	"github.com/rbright/argus/internal/protocol"
	"github.com/rbright/argus/internal/stats"
)

const (
	timerAll      = "all"
	timerManualGC = "manual gc"
)

// Options tune a Worker.
type Options struct {
	// SuspendGC disables the collector while a job runs and forces one
	// collection once the reply is sent.
	SuspendGC bool
}

// Worker serves sessions. It implements ipc.Dispatcher.
type Worker struct {
	analyzer Analyzer
	logger   *slog.Logger
	opts     Options
}

// NewWorker constructs a worker around analyzer.
func NewWorker(analyzer Analyzer, logger *slog.Logger, opts Options) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{analyzer: analyzer, logger: logger, opts: opts}
}

// Dispatch runs one session over ch. A protocol violation aborts the session
// without a reply and is returned; job failures are replied as ERROR.
func (w *Worker) Dispatch(ctx context.Context, ch *ipc.Channel) error {
	logger := w.logger.With("session", uuid.NewString())

	if w.opts.SuspendGC {
		previous := debug.SetGCPercent(-1)
		defer func() {
			gcStats := stats.New()
			_ = gcStats.Time(timerManualGC, func() error {
				runtime.GC()
				debug.SetGCPercent(previous)
				return nil
			})
			overhead, _ := gcStats.Elapsed(timerManualGC)
			logger.Info("manual gc overhead", "elapsed", overhead.String())
		}()
	}

	return w.handle(ctx, ch, logger)
}

func (w *Worker) handle(ctx context.Context, ch *ipc.Channel, logger *slog.Logger) error {
	msg, err := ch.Recv()
	if err != nil {
		return fmt.Errorf("receive start: %w", err)
	}
	req, err := protocol.DecodeStart(msg)
	if err != nil {
		return err
	}
	logger = logger.With("input", req.InputReference, "debug", req.Debug)
	logger.Info("job started")

	st := stats.New()
	outcome, err := w.run(ctx, req.InputReference, st)
	if err != nil {
		logger.Error("job failed", "error", err.Error())
		return w.reply(ch, protocol.NewError(err.Error()))
	}

	reply, err := protocol.NewResult(buildResult(outcome, st.Snapshot(), req.Debug))
	if err != nil {
		logger.Error("encode result failed", "error", err.Error())
		return w.reply(ch, protocol.NewError(err.Error()))
	}
	logger.Info("job finished", "decision", outcome.Decision)
	err = w.reply(ch, reply)
	if errors.Is(err, ipc.ErrSizeExceeded) {
		description := fmt.Sprintf("result of %d bytes exceeds the message cap", len(protocol.Encode(reply)))
		logger.Error("result too large", "error", err.Error())
		return w.reply(ch, protocol.NewError(description))
	}
	return err
}

// run checks the input and invokes the analyzer. Panics become job errors.
func (w *Worker) run(ctx context.Context, input string, st *stats.Stats) (outcome Outcome, err error) {
	if _, statErr := os.Stat(input); statErr != nil {
		return Outcome{}, inaccessible(input, statErr)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &JobError{Description: fmt.Sprintf("analyzer panicked: %v", r)}
		}
	}()

	st.TimeStart(timerAll)
	defer st.TimeEnd(timerAll)
	outcome, err = w.analyzer.Process(ctx, input, st)
	if err != nil {
		var jobErr *JobError
		if errors.As(err, &jobErr) {
			return Outcome{}, jobErr
		}
		return Outcome{}, &JobError{Description: err.Error(), Err: err}
	}
	return outcome, nil
}

func (w *Worker) reply(ch *ipc.Channel, msg protocol.Message) error {
	if err := ch.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func buildResult(outcome Outcome, snapshot stats.Snapshot, debugRequested bool) protocol.JobResult {
	result := protocol.JobResult{
		Sliding:  outcome.Sliding(),
		Decision: outcome.Decision,
		Stats:    snapshot,
	}
	if !debugRequested {
		return result
	}

	fields := &protocol.DebugFields{
		NotSlidingCount:       outcome.NotSlidingCount,
		SlidingCount:          outcome.SlidingCount,
		VoterDecisions:        make([]string, 0, len(outcome.Voters)),
		VoterNotSlidingCounts: make([]int, 0, len(outcome.Voters)),
		VoterSlidingCounts:    make([]int, 0, len(outcome.Voters)),
		PhaseElapsed:          make(map[string]float64, len(snapshot.Timers)),
	}
	for _, vote := range outcome.Voters {
		fields.VoterDecisions = append(fields.VoterDecisions, vote.Decision)
		fields.VoterNotSlidingCounts = append(fields.VoterNotSlidingCounts, vote.NotSlidingCount)
		fields.VoterSlidingCounts = append(fields.VoterSlidingCounts, vote.SlidingCount)
	}

	for name, timer := range snapshot.Timers {
		fields.PhaseElapsed[name] = timer.Elapsed
	}

	result.DebugFields = fields
	return result
}
