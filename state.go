package shellcache

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a worker version.
//
// The only promotion path is
// Installing -> Installed -> Active -> Superseded;
// a failed install parks the version in Failed for good.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateFailed     State = "failed"
	StateInstalled  State = "installed"
	StateActive     State = "active"
	StateSuperseded State = "superseded"
)

type lifecycle struct {
	mu sync.Mutex
	s  State
}

func newLifecycle() *lifecycle {
	return &lifecycle{s: StateNew}
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

// transition moves to the given state if the current state is one of from.
func (l *lifecycle) transition(to State, from ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range from {
		if l.s == f {
			l.s = to
			return nil
		}
	}
	return fmt.Errorf("cannot transition to %s from %s", to, l.s)
}

// State returns the worker's current lifecycle state.
func (wk *Worker) State() State {
	return wk.state.current()
}

// Supersede marks an active worker as replaced by a newer version.
// The host calls it when it swaps in the successor.
func (wk *Worker) Supersede() {
	if err := wk.state.transition(StateSuperseded, StateActive); err != nil {
		wk.log.Debug().Err(err).Msg("Superseding non-active worker")
		return
	}
	wk.log.Info().Msg("Worker superseded")
}
