// Package protocol defines the argus wire messages exchanged over one channel.
package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol reports a malformed or unexpected message.
var ErrProtocol = errors.New("protocol error")

// Type is the one-byte tag that precedes every payload.
type Type byte

const (
	// TypeStart is sent by the client to submit a job.
	TypeStart Type = 0x01
	// TypeResult carries a successful job result.
	TypeResult Type = 0x81
	// TypeError carries a job failure description.
	TypeError Type = 0x82
)

func (t Type) String() string {
	switch t {
	case TypeStart:
		return "START"
	case TypeResult:
		return "RESULT"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeStart, TypeResult, TypeError:
		return true
	default:
		return false
	}
}

// Message is one logical unit exchanged over a channel.
type Message struct {
	Type    Type
	Payload []byte
}

// Encode prefixes payload with its type tag.
//
// Size limits are enforced by the channel, not here.
func Encode(msg Message) []byte {
	out := make([]byte, 0, 1+len(msg.Payload))
	out = append(out, byte(msg.Type))
	return append(out, msg.Payload...)
}

// Decode splits data into its type tag and unvalidated payload.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty message", ErrProtocol)
	}
	t := Type(data[0])
	if !t.Valid() {
		return Message{}, fmt.Errorf("%w: unknown message type 0x%02x", ErrProtocol, data[0])
	}
	return Message{Type: t, Payload: data[1:]}, nil
}
