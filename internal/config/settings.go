package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageBackend selects where claims and critical signals are stored.
type StorageBackend string

const (
	// BackendMemory keeps claims in process, snapshotted to storage.path (default)
	BackendMemory StorageBackend = "memory"
	// BackendDoltServer talks to a running dolt sql-server over the MySQL protocol
	BackendDoltServer StorageBackend = "dolt-server"
	// BackendDoltEmbedded opens a dolt database directory in process
	BackendDoltEmbedded StorageBackend = "dolt-embedded"
)

var validBackends = map[StorageBackend]bool{
	BackendMemory:       true,
	BackendDoltServer:   true,
	BackendDoltEmbedded: true,
}

// GetStorageBackend retrieves the storage backend configuration.
// Returns BackendMemory if not set or invalid, with a warning on stderr for
// invalid values.
//
// Config key: storage.backend
// Valid values: memory, dolt-server, dolt-embedded
func GetStorageBackend() StorageBackend {
	value := GetString(KeyStorageBackend)
	if value == "" {
		return BackendMemory
	}

	backend := StorageBackend(strings.ToLower(strings.TrimSpace(value)))
	if !validBackends[backend] {
		fmt.Fprintf(os.Stderr, "Warning: invalid storage.backend %q in config (valid: memory, dolt-server, dolt-embedded), using default 'memory'\n", value)
		return BackendMemory
	}
	return backend
}

// GetMaxAttempts returns how many times a transition is validated and applied
// before a persistent concurrency conflict is reported. Values below 1 fall
// back to the default of 3.
func GetMaxAttempts() int {
	n := GetInt(KeyMaxAttempts)
	if n < 1 {
		fmt.Fprintf(os.Stderr, "Warning: invalid transition.max-attempts %d in config (must be >= 1), using default 3\n", n)
		return 3
	}
	return n
}

// GetReportConcurrency bounds the parallel signal lookups of an SLA report.
func GetReportConcurrency() int {
	n := GetInt(KeySLAReportParallel)
	if n < 1 {
		return 1
	}
	return n
}

// GetPolicyPath returns the configured policy file, resolved against the
// project directory. Empty means the built-in policy.
func GetPolicyPath() string {
	return resolve(GetString(KeyPolicyPath))
}

// GetPolicyDebounce returns the quiet period the policy watcher waits for
// before reloading.
func GetPolicyDebounce() time.Duration {
	d := GetDuration(KeyPolicyDebounce)
	if d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// GetAuditPath returns the audit log location.
func GetAuditPath() string {
	return resolve(GetString(KeyAuditPath))
}

// GetAuditArchiveDir returns where rotated audit logs are kept.
func GetAuditArchiveDir() string {
	return resolve(GetString(KeyAuditArchiveDir))
}

// GetStoragePath returns the memory backend snapshot file, or "" for a
// process-local store.
func GetStoragePath() string {
	return resolve(GetString(KeyStoragePath))
}

// GetDoltPath returns the embedded Dolt database directory.
func GetDoltPath() string {
	return resolve(GetString(KeyDoltPath))
}

// DoltServerSettings is the connection configuration for dolt-server mode.
type DoltServerSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// GetDoltServerSettings collects the dolt.* keys.
func GetDoltServerSettings() DoltServerSettings {
	return DoltServerSettings{
		Host:     GetString(KeyDoltHost),
		Port:     GetInt(KeyDoltPort),
		User:     GetString(KeyDoltUser),
		Password: GetString(KeyDoltPassword),
		Database: GetString(KeyDoltDatabase),
	}
}

// GetActor returns the actor id recorded in the audit log: the configured
// value, then $USER, then "unknown".
func GetActor() string {
	if a := strings.TrimSpace(GetString(KeyActor)); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// resolve anchors relative paths at the project directory when one was found.
func resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || projectDir == "" {
		return path
	}
	return filepath.Join(projectDir, path)
}
