package shellcache

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shell-cache/shell-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

// deployWorker installs and activates a worker against the given origin.
func deployWorker(t *testing.T, origin string, storage cache.Storage) *Worker {
	t.Helper()
	worker := newTestWorker(t, origin, storage, "v1", nil)
	require.NoError(t, worker.Install(context.Background()))
	require.NoError(t, worker.Activate(context.Background()))
	return worker
}

func get(worker *Worker, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	worker.ServeHTTP(rr, req)
	return rr
}

func htmlHeader() http.Header {
	return http.Header{"Accept": []string{"text/html,application/xhtml+xml"}}
}

func TestCacheFirstServesPrecachedAssetWithoutNetwork(t *testing.T) {
	origin, hits := appOrigin(t)
	defer origin.Close()
	worker := deployWorker(t, origin.URL, cache.NewMemStorage())
	installHits := hits.get("/logo.png")

	rr := get(worker, "/logo.png", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "logo bytes", rr.Body.String())
	require.Contains(t, rr.Header().Get("Cache-Status"), "hit")
	require.Equal(t, installHits, hits.get("/logo.png"), "asset served from cache must not hit the network")
}

func TestCacheFirstServesAssetOffline(t *testing.T) {
	origin, _ := appOrigin(t)
	worker := deployWorker(t, origin.URL, cache.NewMemStorage())
	origin.Close()

	rr := get(worker, "/logo.png", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "logo bytes", rr.Body.String())
}

func TestCacheFirstFillsCacheOnFirstUse(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/extra.css" {
			w.Write([]byte("body { color: red }"))
			return
		}
		w.Write([]byte("shell"))
	}))
	storage := cache.NewMemStorage()
	worker := deployWorker(t, origin.URL, storage)

	rr := get(worker, "/extra.css", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Cache-Status"), "fwd=uri-miss")

	// offline now, the lazily cached copy serves
	origin.Close()
	rr = get(worker, "/extra.css", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "body { color: red }", rr.Body.String())
	require.Contains(t, rr.Header().Get("Cache-Status"), "hit")
}

func TestCacheFirstMatchIgnoresQueryString(t *testing.T) {
	origin, _ := appOrigin(t)
	storage := cache.NewMemStorage()
	worker := deployWorker(t, origin.URL, storage)
	origin.Close()

	rr := get(worker, "/logo.png?cachebust=123", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "logo bytes", rr.Body.String())
}

func TestCacheFirstFailurePropagates(t *testing.T) {
	origin, _ := appOrigin(t)
	worker := deployWorker(t, origin.URL, cache.NewMemStorage())
	origin.Close()

	rr := get(worker, "/never-cached.js", nil)

	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNetworkFirstAlwaysPrefersFreshPage(t *testing.T) {
	page := "app page"
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/app.html" {
			w.Write([]byte(page))
			return
		}
		w.Write([]byte("shell"))
	}))
	storage := cache.NewMemStorage()
	worker := deployWorker(t, origin.URL, storage)

	page = "app page v2"
	rr := get(worker, "/app.html", htmlHeader())
	require.Equal(t, "app page v2", rr.Body.String(), "online HTML must reflect the latest network response")

	// the cache entry was refreshed to match
	origin.Close()
	rr = get(worker, "/app.html", htmlHeader())
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "app page v2", rr.Body.String())
}

func TestNetworkFirstDoesNotStoreFailureStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.html" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("shell"))
	}))
	defer origin.Close()
	storage := cache.NewMemStorage()
	worker := deployWorker(t, origin.URL, storage)

	rr := get(worker, "/gone.html", htmlHeader())
	require.Equal(t, http.StatusNotFound, rr.Code)

	_, ok, err := storage.Get("my-app-v1", "/gone.html")
	require.NoError(t, err)
	require.False(t, ok, "non-success responses must not be cached")
}

func TestNetworkFirstOfflineServesExactMatchIgnoringQuery(t *testing.T) {
	origin, _ := appOrigin(t)
	worker := deployWorker(t, origin.URL, cache.NewMemStorage())
	origin.Close()

	rr := get(worker, "/index.html?utm=campaign", htmlHeader())

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "welcome page", rr.Body.String())
}

func TestNetworkFirstFallbackOrdering(t *testing.T) {
	origin, _ := appOrigin(t)
	storage := cache.NewMemStorage()
	worker := deployWorker(t, origin.URL, storage)
	origin.Close()

	// no exact cached match: the cached app entry wins
	rr := get(worker, "/reports?id=42", htmlHeader())
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "app page", rr.Body.String())
	require.Contains(t, rr.Header().Get("Cache-Status"), "shell-fallback")

	// without the app entry, the welcome entry is next
	require.NoError(t, storage.Delete("my-app-v1", "/app.html"))
	rr = get(worker, "/reports?id=42", htmlHeader())
	require.Equal(t, "welcome page", rr.Body.String())

	// then the document root
	require.NoError(t, storage.Delete("my-app-v1", "/index.html"))
	rr = get(worker, "/reports?id=42", htmlHeader())
	require.Equal(t, "root page", rr.Body.String())

	// nothing left: the network failure surfaces
	require.NoError(t, storage.Delete("my-app-v1", "/"))
	rr = get(worker, "/reports?id=42", htmlHeader())
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNonGetPassesThrough(t *testing.T) {
	var sawPost bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			sawPost = true
			w.Write([]byte("posted"))
			return
		}
		w.Write([]byte("shell"))
	}))
	defer origin.Close()
	storage := cache.NewMemStorage()
	worker := deployWorker(t, origin.URL, storage)

	req := httptest.NewRequest("POST", "/submit", nil)
	rr := httptest.NewRecorder()
	worker.ServeHTTP(rr, req)

	require.True(t, sawPost)
	require.Equal(t, "posted", rr.Body.String())
	require.Contains(t, rr.Header().Get("Cache-Status"), "fwd=method")

	_, ok, err := storage.Get("my-app-v1", "/submit")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestForeignHostRefused(t *testing.T) {
	origin, hits := appOrigin(t)
	defer origin.Close()
	worker := deployWorker(t, origin.URL, cache.NewMemStorage())
	installHits := hits.get("/")

	req := httptest.NewRequest("GET", "http://elsewhere.example/", nil)
	req.Host = "my-app.example"
	rr := httptest.NewRecorder()
	worker.ServeHTTP(rr, req)

	require.Equal(t, http.StatusMisdirectedRequest, rr.Code)
	require.Contains(t, rr.Header().Get("Cache-Status"), "fwd=bypass")
	require.Equal(t, installHits, hits.get("/"), "foreign request must not reach the origin")
}

func TestNilLoggerUsesGlobal(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	originURL, err := url.Parse("http://origin.test")
	require.NoError(t, err)
	worker := New(Config{
		Storage:   cache.NewMemStorage(),
		OriginURL: *originURL,
		Version:   "v1",
	})
	worker.log.Info().Msg("hello")

	require.Contains(t, buf.String(), "hello")
	require.Contains(t, buf.String(), "shell-cache-v1", "child logger keeps the namespace field")
}

func TestNavigationClassification(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header http.Header
		want   bool
	}{
		{"top level navigation", "/reports", http.Header{"Sec-Fetch-Mode": []string{"navigate"}}, true},
		{"html accept header", "/reports", htmlHeader(), true},
		{"html extension", "/app.html", nil, true},
		{"script", "/main.js", http.Header{"Accept": []string{"*/*"}}, false},
		{"image", "/logo.png", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", c.target, nil)
			for k, vv := range c.header {
				for _, v := range vv {
					req.Header.Add(k, v)
				}
			}
			require.Equal(t, c.want, isNavigation(req))
		})
	}
}
