package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/grievance/internal/debug"
)

// Holder publishes the current policy to concurrent readers. A reload swaps
// the whole Policy, so a validation never mixes two versions.
type Holder struct {
	p atomic.Pointer[Policy]
}

// NewHolder returns a holder serving p.
func NewHolder(p *Policy) *Holder {
	h := &Holder{}
	h.p.Store(p)
	return h
}

// Current returns the policy in effect.
func (h *Holder) Current() *Policy {
	return h.p.Load()
}

// Replace installs p and returns the policy it replaced.
func (h *Holder) Replace(p *Policy) *Policy {
	return h.p.Swap(p)
}

// ReloadFunc observes each reload attempt. On failure p is nil and the
// previous policy stays in effect.
type ReloadFunc func(p *Policy, err error)

// Watcher reloads a policy file into a Holder when the file changes.
type Watcher struct {
	path     string
	holder   *Holder
	debounce time.Duration
	onReload ReloadFunc
	fsw      *fsnotify.Watcher
}

// NewWatcher starts watching path's directory. Editors often replace files
// by rename, so the directory is watched rather than the file itself.
func NewWatcher(path string, holder *Holder, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{path: abs, holder: holder, debounce: debounce, onReload: onReload, fsw: fsw}, nil
}

// Run processes file events until ctx is cancelled. It closes the watcher
// on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					w.reload()
				}
			})
			mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			debug.Logf("policy watcher error: %v\n", err)
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		debug.Logf("policy reload of %s rejected, keeping %s: %v\n", w.path, w.holder.Current().Source, err)
		if w.onReload != nil {
			w.onReload(nil, err)
		}
		return
	}
	w.holder.Replace(p)
	debug.Logf("policy reloaded from %s (%d rules)\n", w.path, p.Table.Len())
	if w.onReload != nil {
		w.onReload(p, nil)
	}
}
