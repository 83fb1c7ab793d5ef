package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/storage/memory"
	"github.com/steveyegge/grievance/internal/storage/storagetest"
	"github.com/steveyegge/grievance/internal/types"
)

func TestNewMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.json")
	s, err := New(context.Background(), config.BackendMemory, Options{SnapshotPath: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, ok := s.(*memory.MemoryStorage)
	assert.True(t, ok)

	require.NoError(t, s.CreateClaim(context.Background(), storagetest.NewClaim("gv-1", types.StateSubmitted, types.PriorityLow)))
	assert.FileExists(t, path)
}

func TestNewDefaultsToMemory(t *testing.T) {
	s, err := New(context.Background(), "", Options{})
	require.NoError(t, err)
	_, ok := s.(*memory.MemoryStorage)
	assert.True(t, ok)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StorageBackend("postgres"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
	assert.Contains(t, err.Error(), "memory")
}

func TestBackendsIncludesMemory(t *testing.T) {
	assert.Contains(t, Backends(), string(config.BackendMemory))
}
