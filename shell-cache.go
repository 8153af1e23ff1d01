package shellcache

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/shell-cache/shell-cache/cache"
	cachekey "github.com/shell-cache/shell-cache/pkg/cache-key"
	tee "github.com/shell-cache/shell-cache/pkg/response-writer-tee"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultNamespacePrefix = "shell-cache"
	defaultAppEntry        = "/app.html"
	defaultWelcomeEntry    = "/index.html"
	rootEntry              = "/"
)

// Host is the set of control signals the worker emits to its host.
// The host decides what, if anything, the signals do.
type Host interface {
	// SkipWaiting signals that this version should take over immediately
	// after activation, without waiting for old instances to close.
	// Emitted after a fully successful install.
	SkipWaiting()
	// ClaimClients signals that already-open app instances should be
	// taken over by this version right away. Emitted after activation.
	ClaimClients()
}

type Config struct {
	// Storage for cache namespaces and entries.
	Storage cache.Storage
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Cache version identifier. Bump it whenever the manifest or the
	// cached semantics change; any change triggers full re-caching and
	// stale-namespace teardown.
	Version string
	// Namespace prefix shared by all versions of this app.
	// Defaults to "shell-cache".
	NamespacePrefix string
	// App-shell manifest: absolute paths precached on install.
	Manifest []string
	// Offline fallback entry points for navigations, tried in order
	// after an exact match: app entry, welcome entry, document root.
	// Default to /app.html and /index.html.
	AppEntry     string
	WelcomeEntry string
	// Host to signal. Signals are dropped if nil.
	Host Host
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Transport for origin requests. http.DefaultTransport if nil.
	Transport http.RoundTripper
}

// Worker is the offline-caching engine for one cache version.
//
// It holds no background goroutine of its own: the host drives it by
// calling Install once for a new version, Activate once the version
// should take over, and ServeHTTP for every intercepted request.
type Worker struct {
	storage    cache.Storage
	keyer      cachekey.CacheKeyer
	log        zerolog.Logger
	version    string
	namespace  string
	manifest   []string
	fallbacks  []string
	origin     url.URL
	hostHeader string
	host       Host
	state      *lifecycle
	proxy      httputil.ReverseProxy
	precache   *retryablehttp.Client
}

// New initializes a worker for the given configuration.
// The version, namespace and manifest are fixed for the worker's lifetime;
// a new version means a new worker.
func New(config Config) *Worker {
	// use global logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	prefix := config.NamespacePrefix
	if prefix == "" {
		prefix = defaultNamespacePrefix
	}
	appEntry := config.AppEntry
	if appEntry == "" {
		appEntry = defaultAppEntry
	}
	welcomeEntry := config.WelcomeEntry
	if welcomeEntry == "" {
		welcomeEntry = defaultWelcomeEntry
	}

	keyer := cachekey.NewCacheKeyer(prefix)
	namespace := keyer.Namespace(config.Version)

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("namespace", namespace).
		Logger()

	w := &Worker{
		storage:   config.Storage,
		keyer:     keyer,
		log:       logger,
		version:   config.Version,
		namespace: namespace,
		manifest:  config.Manifest,
		fallbacks: []string{appEntry, welcomeEntry, rootEntry},
		origin:    config.OriginURL,
		host:      config.Host,
		state:     newLifecycle(),
	}
	if w.host == nil {
		w.host = nopHost{}
	}

	host := config.OriginURL.Host
	hostHeader := host
	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
	}
	w.hostHeader = hostHeader

	w.proxy = httputil.ReverseProxy{
		Director:     createDirector(config.OriginURL.Scheme, host, hostHeader),
		Transport:    transport,
		ErrorHandler: w.proxyError,
	}

	// retrying client for install-time precaching only;
	// runtime fetches go through the reverse proxy without retries
	precache := retryablehttp.NewClient()
	precache.RetryMax = 2
	precache.Logger = nil
	precache.HTTPClient.Transport = transport
	w.precache = precache

	return w
}

// Version returns the worker's cache version identifier.
func (wk *Worker) Version() string {
	return wk.version
}

// Namespace returns the name of the worker's cache namespace.
func (wk *Worker) Namespace() string {
	return wk.namespace
}

// ServeHTTP implements the http.Handler interface.
// It is the fetch-interception entry point: every same-origin GET is
// answered by one of the two retrieval strategies, other methods are
// passed through to the origin, and requests for foreign hosts are
// refused.
func (wk *Worker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if wk.isForeign(r) {
		cs := CacheStatus{}
		cs.Forward(FwdReasonBypass)
		w.Header().Set("Cache-Status", cs.String())
		// proxying would retarget the request to the configured
		// origin; refuse to answer for a host we do not serve
		http.Error(w, "misdirected request", http.StatusMisdirectedRequest)
		wk.logRequest(r, cs)
		return
	}
	if r.Method != http.MethodGet {
		cs := CacheStatus{}
		cs.Forward(FwdReasonMethod)
		w.Header().Set("Cache-Status", cs.String())
		wk.proxy.ServeHTTP(w, r)
		wk.logRequest(r, cs)
		return
	}
	if isNavigation(r) {
		wk.networkFirst(w, r)
	} else {
		wk.cacheFirst(w, r)
	}
}

// isForeign reports whether an absolute request URL names a host the
// worker does not answer for.
func (wk *Worker) isForeign(r *http.Request) bool {
	return r.URL.Host != "" && r.URL.Host != r.Host && r.URL.Host != wk.origin.Host
}

// isNavigation classifies a request as HTML/navigational.
// Browsers mark top-level navigations with Sec-Fetch-Mode; the accept
// header and the path extension cover clients that do not.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".html")
}

func (wk *Worker) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if rs, ok := w.(*tee.ResponseSaver); ok {
		// strategy will decide on a cached fallback
		rs.Fail(err)
		return
	}
	wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Origin unreachable on pass-through")
	http.Error(w, "origin unreachable", http.StatusBadGateway)
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func (wk *Worker) logRequest(r *http.Request, cs CacheStatus) {
	isHit := 0
	if cs.fwdReason == "" {
		isHit = 1
	}
	wk.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("status", string(cs.status)).
		Str("fwd", string(cs.fwdReason)).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

type nopHost struct{}

func (nopHost) SkipWaiting() {}

func (nopHost) ClaimClients() {}
