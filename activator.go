package shellcache

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Activate promotes an installed worker to the active version.
//
// It deletes every stale namespace owned by this app (concurrently,
// order does not matter) and signals the host to take control of open
// app instances. Only a fully installed worker can be activated, which
// keeps a partially populated namespace from ever serving traffic.
// Activating an already active worker is a no-op.
func (wk *Worker) Activate(ctx context.Context) error {
	switch s := wk.state.current(); s {
	case StateActive:
		return nil
	case StateInstalled:
	default:
		return fmt.Errorf("cannot activate worker in state %s", s)
	}

	names, err := wk.storage.Namespaces()
	if err != nil {
		return fmt.Errorf("listing namespaces: %w", err)
	}

	stale := make([]string, 0, len(names))
	for _, name := range names {
		if name != wk.namespace && wk.keyer.Owns(name) {
			stale = append(stale, name)
		}
	}

	type outcome struct {
		namespace string
		err       error
	}
	outcomes := make(chan outcome, len(stale))
	for _, name := range stale {
		go func(name string) {
			outcomes <- outcome{name, wk.storage.DeleteNamespace(name)}
		}(name)
	}

	var errs *multierror.Error
	for range stale {
		o := <-outcomes
		if o.err != nil {
			wk.log.Error().Err(o.err).Str("stale", o.namespace).Msg("Could not delete stale namespace")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", o.namespace, o.err))
		} else {
			wk.log.Info().Str("stale", o.namespace).Msg("Deleted stale namespace")
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		// still installed, activation can be retried
		return fmt.Errorf("activating version %s: %w", wk.version, err)
	}

	if err := wk.state.transition(StateActive, StateInstalled); err != nil {
		return err
	}
	wk.log.Info().Msg("Worker active")
	wk.host.ClaimClients()
	return nil
}
