package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	shellcache "github.com/shell-cache/shell-cache"
	"github.com/shell-cache/shell-cache/cache"

	"github.com/rs/zerolog"
)

// server is the host platform for the worker: it owns the dispatch loop,
// drives the lifecycle events, and implements the worker's control
// signals. The active worker is swapped atomically so in-flight requests
// keep their worker and new requests get the new one.
type server struct {
	mu      sync.Mutex // serializes deployments
	active  atomic.Pointer[shellcache.Worker]
	storage cache.Storage
	log     zerolog.Logger
	reload  func() (Config, error)
}

// deploy installs and activates a worker for the given configuration.
// If the install fails, the previously active worker keeps serving.
func (s *server) deploy(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.active.Load(); current != nil && current.Version() == cfg.Version {
		return fmt.Errorf("version %s is already active", cfg.Version)
	}

	originURL, err := url.Parse(cfg.Origin)
	if err != nil {
		return fmt.Errorf("parsing origin: %w", err)
	}

	signals := &hostSignals{server: s}
	worker := shellcache.New(shellcache.Config{
		Storage:         s.storage,
		OriginURL:       *originURL,
		OriginHost:      cfg.OriginHost,
		Version:         cfg.Version,
		NamespacePrefix: cfg.Prefix,
		Manifest:        cfg.Manifest,
		AppEntry:        cfg.AppEntry,
		WelcomeEntry:    cfg.WelcomeEntry,
		Host:            signals,
		Logger:          &s.log,
	})
	signals.worker = worker

	if err := worker.Install(ctx); err != nil {
		return err
	}
	return worker.Activate(ctx)
}

// ServeHTTP hands the request to the active worker.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	worker := s.active.Load()
	if worker == nil {
		http.Error(w, "no active version", http.StatusServiceUnavailable)
		return
	}
	worker.ServeHTTP(w, r)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Version    string   `json:"version"`
		State      string   `json:"state"`
		Namespaces []string `json:"namespaces"`
	}{}
	if worker := s.active.Load(); worker != nil {
		status.Version = worker.Version()
		status.State = string(worker.State())
	}
	names, err := s.storage.Namespaces()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status.Namespaces = names
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleInstall re-reads the configuration and deploys it as a new
// version. On failure the old version keeps serving and the error is
// reported to the caller.
func (s *server) handleInstall(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.reload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.deploy(r.Context(), cfg); err != nil {
		s.log.Error().Err(err).Str("version", cfg.Version).Msg("Deploy failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	fmt.Fprintf(w, "version %s active\n", cfg.Version)
}

// hostSignals adapts the control signals of one worker to the server.
type hostSignals struct {
	server *server
	worker *shellcache.Worker
}

// SkipWaiting is informational here: deploy activates the freshly
// installed worker right away, there is no waiting phase to skip.
func (h *hostSignals) SkipWaiting() {
	h.server.log.Info().Str("version", h.worker.Version()).Msg("Install complete, skipping waiting phase")
}

// ClaimClients swaps the worker in as the active handler, so every
// subsequent request is served by the new version without a restart.
func (h *hostSignals) ClaimClients() {
	if old := h.server.active.Swap(h.worker); old != nil {
		old.Supersede()
	}
	h.server.log.Info().Str("version", h.worker.Version()).Msg("Worker claimed clients")
}
