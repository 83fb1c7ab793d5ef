package main

import (
	"fmt"
	"time"

	"github.com/steveyegge/grievance/internal/audit"
	"github.com/steveyegge/grievance/internal/clock"
	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/policy"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/storage/factory"
	"github.com/steveyegge/grievance/internal/telemetry"
	"github.com/steveyegge/grievance/internal/timeparsing"
	"github.com/steveyegge/grievance/internal/transition"
)

// Per-invocation resources, opened on first use and released by execute.
var (
	store    storage.Store
	holder   *policy.Holder
	auditLog *audit.Log

	// clk supplies "now" when no --now flag is given.
	clk clock.Clock = clock.Real()
)

func getStore() (storage.Store, error) {
	if store != nil {
		return store, nil
	}
	s, err := factory.NewFromConfig(getRootContext())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", config.GetStorageBackend(), err)
	}
	store = telemetry.WrapStore(s)
	debug.Logf("opened %s storage\n", config.GetStorageBackend())
	return store, nil
}

func getHolder() (*policy.Holder, error) {
	if holder != nil {
		return holder, nil
	}
	path := config.GetPolicyPath()
	p, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	debug.Logf("using policy %s\n", p.Source)
	holder = policy.NewHolder(p)
	if path != "" && config.GetBool(config.KeyPolicyWatch) {
		watchPolicy(path, holder)
	}
	return holder, nil
}

// watchPolicy keeps holder current for the rest of the invocation. Commands
// that wait on the user (transition --interactive) pick up edits made in the
// meantime; a rejected edit leaves the loaded policy in force.
func watchPolicy(path string, h *policy.Holder) {
	w, err := policy.NewWatcher(path, h, config.GetPolicyDebounce(), func(p *policy.Policy, err error) {
		if err != nil {
			debug.Warnf("ignoring invalid policy change: %v\n", err)
			return
		}
		debug.Logf("reloaded policy %s\n", p.Source)
	})
	if err != nil {
		debug.Warnf("policy.watch disabled: %v\n", err)
		return
	}
	go func() { _ = w.Run(getRootContext()) }()
}

func getPolicy() (*policy.Policy, error) {
	h, err := getHolder()
	if err != nil {
		return nil, err
	}
	return h.Current(), nil
}

func getAuditLog() *audit.Log {
	if auditLog == nil {
		auditLog = audit.NewLog(config.GetAuditPath())
	}
	return auditLog
}

func newService() (*transition.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	h, err := getHolder()
	if err != nil {
		return nil, err
	}
	return transition.New(s, s, getAuditLog(), h.Current,
		transition.WithClock(clk),
		transition.WithMaxAttempts(config.GetMaxAttempts()),
		transition.WithReportConcurrency(config.GetReportConcurrency()),
	), nil
}

// parseTimeFlag resolves a user-supplied time against now. Empty means now.
func parseTimeFlag(name, value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	t, err := timeparsing.ParseRelativeTime(value, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return t, nil
}

// resolveNow returns --now when given, else the clock.
func resolveNow(value string) (time.Time, error) {
	return parseTimeFlag("now", value, clk.Now())
}
