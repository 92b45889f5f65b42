package fsm

import "fmt"

// ClientState is one step of a job submission.
type ClientState string

// ClientEvent is an observed outcome that moves a submission forward.
type ClientEvent string

const (
	ClientConnecting     ClientState = "connecting"
	ClientSending        ClientState = "sending"
	ClientAwaitingResult ClientState = "awaiting_result"
	ClientRetry          ClientState = "retry"
	ClientDone           ClientState = "done"
	ClientFatal          ClientState = "fatal"
)

const (
	ClientEventConnected  ClientEvent = "connected"
	ClientEventNotFound   ClientEvent = "not_found"
	ClientEventBusy       ClientEvent = "busy"
	ClientEventSent       ClientEvent = "sent"
	ClientEventResult     ClientEvent = "result"
	ClientEventErrorReply ClientEvent = "error_reply"
	ClientEventReconnect  ClientEvent = "reconnect"
	ClientEventExhausted  ClientEvent = "exhausted"
	ClientEventFail       ClientEvent = "fail"
)

// ClientTransition applies event to current.
func ClientTransition(current ClientState, event ClientEvent) (ClientState, error) {
	switch current {
	case ClientConnecting:
		switch event {
		case ClientEventConnected:
			return ClientSending, nil
		case ClientEventNotFound, ClientEventBusy:
			return ClientRetry, nil
		case ClientEventFail:
			return ClientFatal, nil
		}
	case ClientSending:
		switch event {
		case ClientEventSent:
			return ClientAwaitingResult, nil
		case ClientEventFail:
			return ClientFatal, nil
		}
	case ClientAwaitingResult:
		switch event {
		case ClientEventResult, ClientEventErrorReply:
			return ClientDone, nil
		case ClientEventFail:
			return ClientFatal, nil
		}
	case ClientRetry:
		switch event {
		case ClientEventReconnect:
			return ClientConnecting, nil
		case ClientEventExhausted, ClientEventFail:
			return ClientFatal, nil
		}
	case ClientDone, ClientFatal:
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

// Terminal reports whether no further events are accepted.
func (s ClientState) Terminal() bool {
	return s == ClientDone || s == ClientFatal
}
