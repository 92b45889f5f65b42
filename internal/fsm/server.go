package fsm

import "fmt"

// ServerState is one phase of the singleton accept loop.
type ServerState string

// ServerEvent drives the accept loop between phases.
type ServerEvent string

const (
	ServerIdle        ServerState = "idle"
	ServerListening   ServerState = "listening"
	ServerConnected   ServerState = "connected"
	ServerDispatching ServerState = "dispatching"
	ServerStopped     ServerState = "stopped"
)

const (
	ServerEventListen   ServerEvent = "listen"
	ServerEventConnect  ServerEvent = "connect"
	ServerEventDispatch ServerEvent = "dispatch"
	ServerEventComplete ServerEvent = "complete"
	ServerEventAbandon  ServerEvent = "abandon"
	ServerEventTimeout  ServerEvent = "timeout"
	ServerEventStop     ServerEvent = "stop"
)

// ServerTransition applies event to current. Stop is accepted from any live state.
func ServerTransition(current ServerState, event ServerEvent) (ServerState, error) {
	if event == ServerEventStop && current != ServerStopped {
		return ServerStopped, nil
	}

	switch current {
	case ServerIdle:
		if event == ServerEventListen {
			return ServerListening, nil
		}
	case ServerListening:
		switch event {
		case ServerEventConnect:
			return ServerConnected, nil
		case ServerEventTimeout:
			return ServerIdle, nil
		}
	case ServerConnected:
		switch event {
		case ServerEventDispatch:
			return ServerDispatching, nil
		case ServerEventAbandon:
			return ServerIdle, nil
		}
	case ServerDispatching:
		if event == ServerEventComplete {
			return ServerIdle, nil
		}
	case ServerStopped:
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}
