// Package fsm holds the explicit transition tables for the client retry
// machine and the server accept loop.
package fsm

import "fmt"

func invalidTransition[S ~string, E ~string](state S, event E) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
