package ipc

import (
	"fmt"
	"net"
	"time"
)

// One status byte precedes any message traffic on an accepted connection.
const (
	handshakeReady byte = 0x00
	handshakeBusy  byte = 0x01
)

func writeHandshake(conn net.Conn, status byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set handshake deadline: %w", err)
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write([]byte{status})
	return err
}

func readHandshake(conn net.Conn, timeout time.Duration) (byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("set handshake deadline: %w", err)
		}
		defer conn.SetReadDeadline(time.Time{})
	}
	var status [1]byte
	if _, err := conn.Read(status[:]); err != nil {
		return 0, err
	}
	return status[0], nil
}
