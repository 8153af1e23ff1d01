package cachekey

import (
	"net/http"
	"testing"
)

func TestNamespaceIncludesPrefixAndVersion(t *testing.T) {
	keygen := NewCacheKeyer("my-app")
	if ns := keygen.Namespace("v3"); ns != "my-app-v3" {
		t.Fatalf("Namespace is %s", ns)
	}
}

func TestOwnsOnlyPrefixedNamespaces(t *testing.T) {
	keygen := NewCacheKeyer("my-app")
	if !keygen.Owns("my-app-v1") {
		t.Fatal("Own namespace not recognized")
	}
	if keygen.Owns("other-app-v1") {
		t.Fatal("Foreign namespace claimed")
	}
	if keygen.Owns("my-app") {
		t.Fatal("Bare prefix claimed")
	}
}

func TestVersionRoundTrip(t *testing.T) {
	keygen := NewCacheKeyer("my-app")
	if v := keygen.Version(keygen.Namespace("2024-01")); v != "2024-01" {
		t.Fatalf("Version is %s", v)
	}
	if v := keygen.Version("unrelated-v1"); v != "" {
		t.Fatalf("Version for foreign namespace is %s", v)
	}
}

func TestEntryKeyKeepsQuery(t *testing.T) {
	keygen := NewCacheKeyer("my-app")
	r, _ := http.NewRequest("GET", "http://dev.localhost/reports?id=42", nil)
	if key := keygen.EntryKey(r); key != "/reports?id=42" {
		t.Fatalf("EntryKey is %s", key)
	}
	if key := keygen.PathKey(r); key != "/reports" {
		t.Fatalf("PathKey is %s", key)
	}
}
