package ipc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/rbright/argus/internal/protocol"
)

const (
	// DefaultMaxMessageBytes caps one logical message at 2 GiB.
	DefaultMaxMessageBytes int64 = 2 * 1024 * 1024 * 1024
	// DefaultChunkBytes is the largest payload carried by one transport chunk.
	DefaultChunkBytes = 64 * 1024

	chunkHeaderLen      = 5
	chunkFlagMore  byte = 0x01
)

// Limits bounds one logical message and the chunks that carry it.
type Limits struct {
	MaxMessageBytes int64
	ChunkBytes      int
}

// DefaultLimits returns the production message and chunk caps.
func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: DefaultMaxMessageBytes, ChunkBytes: DefaultChunkBytes}
}

func (l Limits) normalized() Limits {
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if l.ChunkBytes <= 0 {
		l.ChunkBytes = DefaultChunkBytes
	}
	return l
}

// Channel carries whole protocol messages over one accepted connection.
//
// Each message travels as a run of chunks: a flags byte (bit0 = more data
// pending), a big-endian uint32 length, then the chunk bytes. A Channel is
// single-use and is closed when its session ends.
type Channel struct {
	conn   net.Conn
	reader *bufio.Reader
	limits Limits

	recvMu sync.Mutex
	sendMu sync.Mutex

	mu     sync.Mutex
	failed error
}

// NewChannel wraps conn. The channel owns conn from here on.
func NewChannel(conn net.Conn, limits Limits) *Channel {
	return &Channel{
		conn:   conn,
		reader: bufio.NewReader(conn),
		limits: limits.normalized(),
	}
}

// Recv blocks until one complete message has been assembled.
func (c *Channel) Recv() (protocol.Message, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if err := c.unusable(); err != nil {
		return protocol.Message{}, err
	}

	var (
		data   []byte
		header [chunkHeaderLen]byte
	)
	for {
		if _, err := io.ReadFull(c.reader, header[:]); err != nil {
			return protocol.Message{}, c.fail(classifyIO("read chunk header", err))
		}

		flags := header[0]
		if flags&^chunkFlagMore != 0 {
			return protocol.Message{}, c.fail(fmt.Errorf("%w: unknown chunk flags 0x%02x", protocol.ErrProtocol, flags))
		}
		size := int(binary.BigEndian.Uint32(header[1:]))
		if size > c.limits.ChunkBytes {
			return protocol.Message{}, c.fail(fmt.Errorf("%w: chunk of %d bytes exceeds %d", protocol.ErrProtocol, size, c.limits.ChunkBytes))
		}
		if int64(len(data))+int64(size) > c.limits.MaxMessageBytes {
			return protocol.Message{}, c.fail(fmt.Errorf("%w: more than %d bytes", ErrSizeExceeded, c.limits.MaxMessageBytes))
		}

		data = slices.Grow(data, size)
		chunk := data[len(data) : len(data)+size]
		if _, err := io.ReadFull(c.reader, chunk); err != nil {
			return protocol.Message{}, c.fail(classifyIO("read chunk", err))
		}
		data = data[:len(data)+size]

		if flags&chunkFlagMore == 0 {
			break
		}
	}

	return protocol.Decode(data)
}

// Send writes msg as one logical write; concurrent sends never interleave.
func (c *Channel) Send(msg protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.unusable(); err != nil {
		return err
	}

	frame := protocol.Encode(msg)
	if int64(len(frame)) > c.limits.MaxMessageBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrSizeExceeded, len(frame), c.limits.MaxMessageBytes)
	}

	buffers := make(net.Buffers, 0, 2*(len(frame)/c.limits.ChunkBytes+1))
	for offset := 0; offset < len(frame); {
		end := min(offset+c.limits.ChunkBytes, len(frame))

		header := make([]byte, chunkHeaderLen)
		if end < len(frame) {
			header[0] = chunkFlagMore
		}
		binary.BigEndian.PutUint32(header[1:], uint32(end-offset))
		buffers = append(buffers, header, frame[offset:end])
		offset = end
	}

	if _, err := buffers.WriteTo(c.conn); err != nil {
		return c.fail(classifyIO("write message", err))
	}
	return nil
}

// Close releases the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

func (c *Channel) unusable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return fmt.Errorf("channel unusable: %w", c.failed)
	}
	return nil
}

func (c *Channel) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		c.failed = err
	}
	return err
}
