package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/argus/internal/stats"
)

// StartRequest is the START payload.
type StartRequest struct {
	InputReference string `json:"input_reference"`
	Debug          bool   `json:"debug"`
}

// JobResult is the RESULT payload. Debug is populated only when requested.
type JobResult struct {
	Sliding  bool           `json:"sliding"`
	Decision string         `json:"decision"`
	Stats    stats.Snapshot `json:"stats"`
	*DebugFields
}

// DebugFields are the extended diagnostics appended to a debug RESULT.
type DebugFields struct {
	NotSlidingCount       int                `json:"not_sliding_count"`
	SlidingCount          int                `json:"sliding_count"`
	VoterDecisions        []string           `json:"voter_decisions"`
	VoterNotSlidingCounts []int              `json:"voter_not_sliding_counts"`
	VoterSlidingCounts    []int              `json:"voter_sliding_counts"`
	PhaseElapsed          map[string]float64 `json:"phase_elapsed,omitempty"`
}

// NewStart encodes req as a START message.
func NewStart(req StartRequest) (Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("encode start payload: %w", err)
	}
	return Message{Type: TypeStart, Payload: payload}, nil
}

// NewResult encodes result as a RESULT message.
func NewResult(result JobResult) (Message, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("encode result payload: %w", err)
	}
	return Message{Type: TypeResult, Payload: payload}, nil
}

// NewError encodes a human-readable failure as an ERROR message.
func NewError(description string) Message {
	payload, _ := json.Marshal(description)
	return Message{Type: TypeError, Payload: payload}
}

// DecodeStart validates a START message payload.
func DecodeStart(msg Message) (StartRequest, error) {
	if msg.Type != TypeStart {
		return StartRequest{}, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, TypeStart, msg.Type)
	}

	var req StartRequest
	if err := decodeStrict(msg.Payload, &req); err != nil {
		return StartRequest{}, fmt.Errorf("%w: decode start payload: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(req.InputReference) == "" {
		return StartRequest{}, fmt.Errorf("%w: start payload missing input_reference", ErrProtocol)
	}
	return req, nil
}

// DecodeResult validates a RESULT message payload.
func DecodeResult(msg Message) (JobResult, error) {
	if msg.Type != TypeResult {
		return JobResult{}, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, TypeResult, msg.Type)
	}

	var result JobResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return JobResult{}, fmt.Errorf("%w: decode result payload: %v", ErrProtocol, err)
	}
	if result.Stats.Timers == nil {
		result.Stats.Timers = map[string]stats.Timer{}
	}
	return result, nil
}

// DecodeError returns the failure description carried by an ERROR message.
func DecodeError(msg Message) (string, error) {
	if msg.Type != TypeError {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrProtocol, TypeError, msg.Type)
	}

	var description string
	if err := json.Unmarshal(msg.Payload, &description); err != nil {
		return "", fmt.Errorf("%w: decode error payload: %v", ErrProtocol, err)
	}
	return description, nil
}

// decodeStrict rejects unknown fields and trailing values.
func decodeStrict(data []byte, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("multiple JSON values are not allowed")
	}
	return nil
}
