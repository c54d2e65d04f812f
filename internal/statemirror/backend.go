// Package statemirror optionally mirrors the singleton server-state
// snapshot (fold_from, l0_stale, buffer totals, last dispatch time) to an
// external backend so a dashboard or a second engram instance watching
// the same project from another host can read status without opening the
// SQLite file directly.
//
// This is intentionally a thin, swappable concern distinct from
// internal/store: the state store is the single durable arbiter of
// engram's own operation; a mirror is a best-effort, eventually-current
// copy. Mirroring failures never block a dispatch.
package statemirror

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Snapshot is the subset of singleton state worth mirroring externally.
type Snapshot struct {
	ProjectRoot      string `json:"projectRoot"`
	LastPollCommit   string `json:"lastPollCommit,omitempty"`
	LastDispatchTime string `json:"lastDispatchTime,omitempty"`
	BufferTotalChars int    `json:"bufferTotalChars"`
	FoldFrom         string `json:"foldFrom,omitempty"`
	L0Stale          bool   `json:"l0Stale"`
	UpdatedAt        string `json:"updatedAt"`
}

// Backend persists and retrieves a Snapshot.
type Backend interface {
	Load() (*Snapshot, error)
	Save(snapshot *Snapshot) error
	Close() error
}

// Factory constructs a Backend from a DSN (scheme selects the backend).
type Factory func(dsn string) (Backend, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

// Register adds a Backend factory for the given URL scheme. Called by
// backend implementations' init() so that BuildFromDSN can dispatch on
// scheme without this package importing every backend directly.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookup(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[scheme]
	return f, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildFromDSN resolves dsn's scheme to a registered backend. An empty
// dsn means "no mirror configured" and returns (nil, nil).
func BuildFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("statemirror: parse dsn: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookup(scheme); ok {
		return factory(dsn)
	}
	return nil, fmt.Errorf("statemirror: unsupported backend scheme %q", scheme)
}
