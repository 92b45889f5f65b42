package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrNotFound means no server is listening on the endpoint.
	ErrNotFound = errors.New("transport not found")
	// ErrBusy means the endpoint is claimed by another in-flight client.
	ErrBusy = errors.New("transport busy")
	// ErrBroken means the peer disconnected mid-read or mid-write.
	ErrBroken = errors.New("transport broken")
	// ErrSizeExceeded means a message grew beyond the configured cap.
	ErrSizeExceeded = errors.New("message size exceeded")
)

// classifyIO maps disconnect-shaped I/O failures onto ErrBroken.
func classifyIO(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBrokenPipe(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrBroken, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isBrokenPipe reports peer-disconnect failures.
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, ErrBroken)
}

// isSocketMissing reports absent-socket failures.
func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist)
}

// isConnectionRefused reports no-listener failures.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
