package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderReplace(t *testing.T) {
	first := Default()
	h := NewHolder(first)
	assert.Same(t, first, h.Current())

	second := Default()
	prev := h.Replace(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, h.Current())
}

func TestHolderConcurrentReaders(t *testing.T) {
	h := NewHolder(Default())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p := h.Current()
				// A reader always sees a self-consistent policy.
				assert.Same(t, p.Table, p.Validator().Table())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Replace(Default())
			}
		}()
	}
	wg.Wait()
}

type reloadEvent struct {
	p   *Policy
	err error
}

func startWatcher(t *testing.T, path string, h *Holder) <-chan reloadEvent {
	t.Helper()
	events := make(chan reloadEvent, 8)
	w, err := NewWatcher(path, h, 20*time.Millisecond, func(p *Policy, err error) {
		events <- reloadEvent{p, err}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return events
}

func waitReload(t *testing.T, events <-chan reloadEvent) reloadEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for policy reload")
		return reloadEvent{}
	}
}

func TestWatcherReloadsAndKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sla: {warn-within-days: 1}\n"), 0600))

	initial, err := Load(path)
	require.NoError(t, err)
	h := NewHolder(initial)
	events := startWatcher(t, path, h)

	require.NoError(t, os.WriteFile(path, []byte("sla: {warn-within-days: 5}\n"), 0600))
	ev := waitReload(t, events)
	require.NoError(t, ev.err)
	assert.Equal(t, 5, h.Current().Options.SLAWarnWithinDays)

	good := h.Current()
	require.NoError(t, os.WriteFile(path, []byte("sla: {warn-within-days: [\n"), 0600))
	ev = waitReload(t, events)
	require.Error(t, ev.err)
	assert.Nil(t, ev.p)
	assert.Same(t, good, h.Current(), "a bad file leaves the previous policy in effect")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	h := NewHolder(Default())
	events := startWatcher(t, path, h)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	select {
	case ev := <-events:
		t.Fatalf("unexpected reload: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
