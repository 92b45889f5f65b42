package ipc

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/rbright/argus/internal/protocol"
	"github.com/stretchr/testify/require"
)

func writeChunk(conn net.Conn, more bool, data []byte) {
	header := make([]byte, chunkHeaderLen)
	if more {
		header[0] = chunkFlagMore
	}
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))
	_, _ = conn.Write(append(header, data...))
}

func TestChannelRoundTripAcrossChunks(t *testing.T) {
	left, right := net.Pipe()
	sender := NewChannel(left, Limits{MaxMessageBytes: 1 << 20, ChunkBytes: 7})
	receiver := NewChannel(right, Limits{MaxMessageBytes: 1 << 20, ChunkBytes: 7})
	defer sender.Close()
	defer receiver.Close()

	msg, err := protocol.NewStart(protocol.StartRequest{InputReference: "/videos/a.mp4", Debug: true})
	require.NoError(t, err)

	sendErr := make(chan error, 1)
	go func() { sendErr <- sender.Send(msg) }()

	got, err := receiver.Recv()
	require.NoError(t, err)
	require.NoError(t, <-sendErr)
	require.Equal(t, protocol.TypeStart, got.Type)
	require.JSONEq(t, string(msg.Payload), string(got.Payload))
}

func TestChannelAssemblesResultDeliveredInThreeChunks(t *testing.T) {
	left, right := net.Pipe()
	receiver := NewChannel(right, DefaultLimits())
	defer left.Close()
	defer receiver.Close()

	want := map[string]any{
		"sliding":  true,
		"decision": "Sliding",
		"stats":    map[string]any{"timers": map[string]any{"all": map[string]any{"start": 0.0, "end": 1.5, "elapsed": 1.5}}},
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)
	frame := protocol.Encode(protocol.Message{Type: protocol.TypeResult, Payload: payload})

	third := len(frame) / 3
	go func() {
		writeChunk(left, true, frame[:third])
		writeChunk(left, true, frame[third:2*third])
		writeChunk(left, false, frame[2*third:])
	}()

	got, err := receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeResult, got.Type)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got.Payload, &decoded))
	require.Equal(t, want["decision"], decoded["decision"])
	require.JSONEq(t, string(payload), string(got.Payload))
}

func TestChannelSizeExceededMakesChannelUnusable(t *testing.T) {
	left, right := net.Pipe()
	receiver := NewChannel(right, Limits{MaxMessageBytes: 12, ChunkBytes: 8})
	defer left.Close()
	defer receiver.Close()

	go func() {
		writeChunk(left, true, []byte{byte(protocol.TypeResult), 1, 2, 3, 4, 5, 6, 7})
		writeChunk(left, true, []byte{1, 2, 3, 4, 5, 6, 7, 8})
		_ = left.Close()
	}()

	_, err := receiver.Recv()
	require.ErrorIs(t, err, ErrSizeExceeded)

	_, err = receiver.Recv()
	require.ErrorIs(t, err, ErrSizeExceeded)
	require.Contains(t, err.Error(), "channel unusable")

	err = receiver.Send(protocol.NewError("late"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel unusable")
}

func TestChannelRejectsOversizedChunk(t *testing.T) {
	left, right := net.Pipe()
	receiver := NewChannel(right, Limits{MaxMessageBytes: 1024, ChunkBytes: 4})
	defer left.Close()
	defer receiver.Close()

	go writeChunk(left, false, []byte{byte(protocol.TypeError), '"', 'x', 'y', '"'})

	_, err := receiver.Recv()
	require.ErrorIs(t, err, protocol.ErrProtocol)
	require.Contains(t, err.Error(), "exceeds")
}

func TestChannelReportsBrokenPeerMidMessage(t *testing.T) {
	left, right := net.Pipe()
	receiver := NewChannel(right, DefaultLimits())
	defer receiver.Close()

	go func() {
		header := make([]byte, chunkHeaderLen)
		header[0] = chunkFlagMore
		binary.BigEndian.PutUint32(header[1:], 32)
		_, _ = left.Write(header)
		_, _ = left.Write([]byte{byte(protocol.TypeResult), '{'})
		_ = left.Close()
	}()

	_, err := receiver.Recv()
	require.ErrorIs(t, err, ErrBroken)
}

func TestChannelRejectsUnknownMessageType(t *testing.T) {
	left, right := net.Pipe()
	receiver := NewChannel(right, DefaultLimits())
	defer left.Close()
	defer receiver.Close()

	go writeChunk(left, false, []byte{0x55, '{', '}'})

	_, err := receiver.Recv()
	require.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestChannelSendRejectsOversizedMessage(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	sender := NewChannel(left, Limits{MaxMessageBytes: 8, ChunkBytes: 4})
	defer sender.Close()

	err := sender.Send(protocol.Message{Type: protocol.TypeResult, Payload: make([]byte, 8)})
	require.ErrorIs(t, err, ErrSizeExceeded)
}

func TestChannelConcurrentSendsDoNotInterleave(t *testing.T) {
	left, right := net.Pipe()
	limits := Limits{MaxMessageBytes: 1 << 20, ChunkBytes: 3}
	sender := NewChannel(left, limits)
	receiver := NewChannel(right, limits)
	defer sender.Close()
	defer receiver.Close()

	first := protocol.NewError("first message with several chunks")
	second := protocol.NewError("second message, also chunked")

	var wg sync.WaitGroup
	for _, msg := range []protocol.Message{first, second} {
		wg.Add(1)
		go func(m protocol.Message) {
			defer wg.Done()
			require.NoError(t, sender.Send(m))
		}(msg)
	}

	got := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		msg, err := receiver.Recv()
		require.NoError(t, err)
		description, err := protocol.DecodeError(msg)
		require.NoError(t, err)
		got = append(got, description)
	}
	wg.Wait()

	require.ElementsMatch(t, []string{"first message with several chunks", "second message, also chunked"}, got)
}
