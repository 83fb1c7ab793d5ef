// Package factory opens the storage backend named in configuration.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/storage/memory"
)

// BackendFactory creates a storage backend.
type BackendFactory func(ctx context.Context, opts Options) (storage.Store, error)

// backendRegistry holds registered backend factories
var backendRegistry = make(map[config.StorageBackend]BackendFactory)

// RegisterBackend registers a storage backend factory
func RegisterBackend(name config.StorageBackend, factory BackendFactory) {
	backendRegistry[name] = factory
}

// Options configures how the storage backend is opened
type Options struct {
	// SnapshotPath is the memory backend's file ("" = process-local).
	SnapshotPath string

	// DoltPath is the embedded Dolt database directory.
	DoltPath string

	// Dolt server mode
	Server config.DoltServerSettings
}

// OptionsFromConfig collects Options from the loaded configuration.
func OptionsFromConfig() Options {
	return Options{
		SnapshotPath: config.GetStoragePath(),
		DoltPath:     config.GetDoltPath(),
		Server:       config.GetDoltServerSettings(),
	}
}

func init() {
	RegisterBackend(config.BackendMemory, func(ctx context.Context, opts Options) (storage.Store, error) {
		return memory.Open(opts.SnapshotPath)
	})
}

// New creates the named backend.
func New(ctx context.Context, backend config.StorageBackend, opts Options) (storage.Store, error) {
	if backend == "" {
		backend = config.BackendMemory
	}
	if factory, ok := backendRegistry[backend]; ok {
		return factory(ctx, opts)
	}
	if backend == config.BackendDoltServer || backend == config.BackendDoltEmbedded {
		return nil, fmt.Errorf("%s backend requires CGO (not available on this build)", backend)
	}
	return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", backend, strings.Join(Backends(), ", "))
}

// NewFromConfig opens the backend selected by storage.backend.
func NewFromConfig(ctx context.Context) (storage.Store, error) {
	return New(ctx, config.GetStorageBackend(), OptionsFromConfig())
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for name := range backendRegistry {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
