package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kozaktomas/attendance-terminal/internal/config"
)

// Opener opens a Store for the given database configuration.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (Store, error)

var (
	backends   = map[string]Opener{}
	backendsMu sync.RWMutex
)

// RegisterBackend registers a named backend constructor.
// This is called from cmd to avoid import cycles between the backend packages and this one.
func RegisterBackend(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[strings.ToLower(name)] = open
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	backendsMu.RLock()
	open, ok := backends[strings.ToLower(cfg.Backend)]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database backend %q (available: %s)", cfg.Backend, strings.Join(Backends(), ", "))
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Backend, err)
	}
	return store, nil
}
