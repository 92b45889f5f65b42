package client

import (
	"context"
	"time"

	"github.com/rbright/argus/internal/ipc"
	"github.com/rbright/argus/internal/lockmarker"
)

// ServiceState is the operator-facing view of the service.
type ServiceState string

const (
	StateRunning  ServiceState = "running"
	StateStarting ServiceState = "starting"
	StateStopped  ServiceState = "stopped"
	StateStale    ServiceState = "stale"
)

// Status combines the lock marker and a socket probe. The probe counts as a
// connection on the server side, so it is skipped when the marker is stale.
func Status(ctx context.Context, socketPath, lockPath string, timeout time.Duration) (ServiceState, error) {
	marker, err := lockmarker.Inspect(lockPath)
	if err != nil {
		return "", err
	}
	if marker == lockmarker.StatusStale {
		return StateStale, nil
	}

	alive, err := ipc.Probe(ctx, socketPath, timeout)
	if err != nil {
		return "", err
	}
	switch {
	case alive:
		return StateRunning, nil
	case marker == lockmarker.StatusHeld:
		return StateStarting, nil
	default:
		return StateStopped, nil
	}
}
