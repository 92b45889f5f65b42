package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rbright/argus/internal/protocol"
)

// Dial connects to the endpoint and waits until the server selects this
// connection for a session.
//
// No listener yields ErrNotFound. A server that is serving someone else, or
// that drops the connection before selecting it, yields ErrBusy.
func Dial(ctx context.Context, path string, timeout time.Duration, limits Limits) (*Channel, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	status, err := readHandshake(conn, timeout)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: no handshake within %s", ErrBusy, timeout)
		}
		if isBrokenPipe(err) {
			return nil, fmt.Errorf("%w: dropped before handshake: %v", ErrBusy, err)
		}
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	switch status {
	case handshakeReady:
		return NewChannel(conn, limits), nil
	case handshakeBusy:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s is serving another client", ErrBusy, path)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unknown handshake status 0x%02x", protocol.ErrProtocol, status)
	}
}
