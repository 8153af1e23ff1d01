package cachekey

import (
	"net/http"
	"strings"
)

const versionSeparator = "-"

// CacheKeyer derives cache namespace names and entry keys.
//
// Namespaces are named "<prefix>-<version>", so all namespaces belonging
// to one app share the prefix and can be told apart from namespaces of
// unrelated apps sharing the same storage.
type CacheKeyer struct {
	// Unique identifier for the app, used as the namespace prefix.
	Prefix string
}

func NewCacheKeyer(prefix string) CacheKeyer {
	return CacheKeyer{
		Prefix: prefix,
	}
}

// Namespace returns the namespace name for the given cache version.
func (c CacheKeyer) Namespace(version string) string {
	return c.Prefix + versionSeparator + version
}

// Owns reports whether the given namespace name follows this app's
// naming convention. Namespaces of other apps are never owned.
func (c CacheKeyer) Owns(namespace string) bool {
	return strings.HasPrefix(namespace, c.Prefix+versionSeparator)
}

// Version extracts the cache version from an owned namespace name.
// It returns an empty string for namespaces not owned by this keyer.
func (c CacheKeyer) Version(namespace string) string {
	if !c.Owns(namespace) {
		return ""
	}
	return strings.TrimPrefix(namespace, c.Prefix+versionSeparator)
}

// EntryKey returns the cache entry key for a request.
// The key is the request URI, query string included.
func (c CacheKeyer) EntryKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// PathKey returns the entry key for a request with the query string
// stripped. It is used for lookups that ignore query differences.
func (c CacheKeyer) PathKey(r *http.Request) string {
	return r.URL.EscapedPath()
}
