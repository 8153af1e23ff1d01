package shellcache

import (
	"io"
	"net/http"

	serializer "github.com/shell-cache/shell-cache/pkg/response-serializer"
	tee "github.com/shell-cache/shell-cache/pkg/response-writer-tee"
)

// networkFirst serves HTML/navigational requests: always prefer the
// freshest page when online, degrade to a cached copy offline.
//
// The offline lookup ignores query-string differences; when even that
// misses, the shell fallback chain is tried in order (app entry, welcome
// entry, document root) before the network failure is surfaced.
func (wk *Worker) networkFirst(w http.ResponseWriter, r *http.Request) {
	cs := CacheStatus{}
	cs.Forward(FwdReasonUriMiss)
	w.Header().Set("Cache-Status", cs.String())

	rs := tee.NewResponseSaver(w)
	wk.proxy.ServeHTTP(rs, r)
	if rs.Err() == nil {
		if isSuccess(rs.StatusCode()) {
			wk.store(r, rs)
		}
		wk.logRequest(r, cs)
		return
	}

	if rs.Wrote() {
		// the proxy already started the client response, too late
		// to replace it with a cached copy
		wk.log.Error().Err(rs.Err()).Str("url", r.URL.String()).Msg("Network failed mid-response")
		return
	}

	wk.log.Debug().Err(rs.Err()).Str("url", r.URL.String()).Msg("Network failed, serving from cache")
	pathKey := wk.keyer.PathKey(r)
	for _, path := range append([]string{pathKey}, wk.fallbacks...) {
		b, ok, err := wk.storage.Match(wk.namespace, path)
		if err != nil {
			wk.log.Error().Err(err).Str("path", path).Msg("Could not read from cache")
			continue
		}
		if !ok {
			continue
		}
		hit := CacheStatus{}
		hit.Hit()
		if path != pathKey {
			hit.Detail("shell-fallback")
		}
		wk.writeStored(w, r, b, hit)
		return
	}

	// nothing cached to fall back to, surface the network failure
	http.Error(w, "offline: "+rs.Err().Error(), http.StatusBadGateway)
	wk.logRequest(r, cs)
}

// cacheFirst serves asset requests: a cached copy wins without any
// network access, the network fills the cache on first use, and a
// network failure is surfaced as-is.
func (wk *Worker) cacheFirst(w http.ResponseWriter, r *http.Request) {
	b, ok, err := wk.storage.Get(wk.namespace, wk.keyer.EntryKey(r))
	if err != nil {
		wk.log.Error().Err(err).Str("key", wk.keyer.EntryKey(r)).Msg("Could not read from cache")
	}
	if !ok {
		b, ok, err = wk.storage.Match(wk.namespace, wk.keyer.PathKey(r))
		if err != nil {
			wk.log.Error().Err(err).Str("path", wk.keyer.PathKey(r)).Msg("Could not read from cache")
		}
	}
	if ok {
		cs := CacheStatus{}
		cs.Hit()
		wk.writeStored(w, r, b, cs)
		return
	}

	cs := CacheStatus{}
	cs.Forward(FwdReasonUriMiss)
	w.Header().Set("Cache-Status", cs.String())

	rs := tee.NewResponseSaver(w)
	wk.proxy.ServeHTTP(rs, r)
	if rs.Err() != nil {
		if !rs.Wrote() {
			http.Error(w, "offline: "+rs.Err().Error(), http.StatusBadGateway)
		}
		wk.logRequest(r, cs)
		return
	}
	if isSuccess(rs.StatusCode()) {
		wk.store(r, rs)
	}
	wk.logRequest(r, cs)
}

// store writes a captured origin response into the active namespace,
// overwriting any previous entry for the same key.
func (wk *Worker) store(r *http.Request, rs *tee.ResponseSaver) {
	key := wk.keyer.EntryKey(r)
	if err := wk.storage.Put(wk.namespace, key, rs.Response()); err != nil {
		wk.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return
	}
	wk.log.Trace().Str("key", key).Msg("Stored response")
}

func (wk *Worker) writeStored(w http.ResponseWriter, r *http.Request, b []byte, cs CacheStatus) {
	res, err := serializer.BytesToResponse(b)
	if err != nil {
		wk.log.Error().Err(err).Msg("Could not read stored response")
		http.Error(w, "corrupt cache entry", http.StatusInternalServerError)
		return
	}
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		wk.log.Error().Err(err).Msg("Could not write response body to client")
	}
	wk.logRequest(r, cs)
}
