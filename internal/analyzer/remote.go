// Package analyzer implements session.Analyzer against a gRPC inference backend.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/argus/internal/session"
	"github.com/rbright/argus/internal/stats"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DefaultEndpoint = "127.0.0.1:50061"
	DefaultMethod   = "/argus.v1.Analyzer/Process"

	timerConnect = "Connect Backend"
	timerProcess = "Process Video"
)

// ErrUnavailable means the backend could not be reached.
var ErrUnavailable = errors.New("analyzer backend unavailable")

// Config locates the backend RPC.
type Config struct {
	Endpoint    string
	Method      string
	DialTimeout time.Duration
	CallTimeout time.Duration
}

// Remote calls one unary RPC per job, carrying structpb messages.
type Remote struct {
	cfg Config
}

// recorder is the part of *stats.Stats needed to merge backend timings.
type recorder interface {
	Offset() float64
	Record(name string, start, end float64)
}

var _ recorder = (*stats.Stats)(nil)

// NewRemote validates cfg and fills defaults.
func NewRemote(cfg Config) (*Remote, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Method = strings.TrimSpace(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	if err := ValidateMethod(cfg.Method); err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	return &Remote{cfg: cfg}, nil
}

// ValidateMethod requires the full "/service/method" form.
func ValidateMethod(method string) error {
	parts := strings.Split(strings.TrimPrefix(method, "/"), "/")
	if !strings.HasPrefix(method, "/") || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid analyzer method %q: expected /service/method", method)
	}
	return nil
}

// Process sends input to the backend and converts its reply into an outcome.
func (r *Remote) Process(ctx context.Context, input string, sink stats.Sink) (session.Outcome, error) {
	sink.TimeStart(timerConnect)
	conn, err := r.connect(ctx)
	sink.TimeEnd(timerConnect)
	if err != nil {
		return session.Outcome{}, err
	}
	defer conn.Close()

	req, err := structpb.NewStruct(map[string]any{"input_reference": input})
	if err != nil {
		return session.Outcome{}, fmt.Errorf("build analyzer request: %w", err)
	}

	callCtx := ctx
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	var base float64
	rec, canRecord := sink.(recorder)
	if canRecord {
		base = rec.Offset()
	}

	resp := &structpb.Struct{}
	sink.TimeStart(timerProcess)
	err = conn.Invoke(callCtx, r.cfg.Method, req, resp)
	sink.TimeEnd(timerProcess)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("invoke %s: %w", r.cfg.Method, err)
	}

	reply, err := decodeReply(resp)
	if err != nil {
		return session.Outcome{}, err
	}
	if canRecord {
		for name, timer := range reply.timers {
			rec.Record(name, base+timer.start, base+timer.end)
		}
	}
	return reply.outcome, nil
}

func (r *Remote) connect(ctx context.Context) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		r.cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial analyzer grpc %q: %w", r.cfg.Endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := awaitReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w at %s: %v", ErrUnavailable, r.cfg.Endpoint, err)
	}
	return conn, nil
}

// awaitReady blocks until conn is Ready, shut down, or ctx expires.
func awaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("still %s: %w", state, err)
			}
			return fmt.Errorf("stuck in %s", state)
		}
	}
}
