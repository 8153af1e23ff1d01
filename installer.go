package shellcache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	serializer "github.com/shell-cache/shell-cache/pkg/response-serializer"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-retryablehttp"
)

// Install populates a fresh namespace with the app-shell manifest.
//
// All manifest entries are fetched concurrently and every outcome is
// tracked, so the returned error lists each unreachable path instead of
// only the first one. If any entry fails, the install as a whole fails
// and the version must never be activated; a partial offline shell is
// worse than a visible install failure.
func (wk *Worker) Install(ctx context.Context) error {
	if err := wk.state.transition(StateInstalling, StateNew); err != nil {
		return err
	}
	if err := wk.storage.EnsureNamespace(wk.namespace); err != nil {
		wk.state.transition(StateFailed, StateInstalling)
		return fmt.Errorf("opening namespace %s: %w", wk.namespace, err)
	}

	type outcome struct {
		path string
		err  error
	}
	outcomes := make(chan outcome, len(wk.manifest))
	for _, path := range wk.manifest {
		go func(path string) {
			outcomes <- outcome{path, wk.precacheEntry(ctx, path)}
		}(path)
	}

	var errs *multierror.Error
	for range wk.manifest {
		o := <-outcomes
		if o.err != nil {
			wk.log.Error().Err(o.err).Str("path", o.path).Msg("Could not precache shell resource")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", o.path, o.err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		wk.state.transition(StateFailed, StateInstalling)
		return fmt.Errorf("installing version %s: %w", wk.version, err)
	}

	wk.state.transition(StateInstalled, StateInstalling)
	wk.log.Info().Int("entries", len(wk.manifest)).Msg("App shell precached")
	wk.host.SkipWaiting()
	return nil
}

// precacheEntry fetches one manifest path from the origin and stores the
// response. Anything other than a success status counts as unreachable.
func (wk *Worker) precacheEntry(ctx context.Context, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	target := wk.origin.ResolveReference(ref)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	if wk.hostHeader != "" {
		req.Host = wk.hostHeader
	}
	res, err := wk.precache.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if !isSuccess(res.StatusCode) {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return err
	}
	return wk.storage.Put(wk.namespace, path, bts)
}
