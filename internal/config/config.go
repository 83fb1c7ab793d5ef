// Package config holds gv's application settings: where the policy, audit log
// and claim store live, and how the CLI behaves. It is backed by a single
// package-level viper instance populated by Initialize.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DirName is the per-project directory holding config.yaml, the audit log and
// local storage.
const DirName = ".grievance"

// EnvPrefix prefixes environment overrides: storage.backend -> GV_STORAGE_BACKEND.
const EnvPrefix = "GV"

// Config keys.
const (
	KeyPolicyPath        = "policy.path"
	KeyPolicyWatch       = "policy.watch"
	KeyAuditPath         = "audit.path"
	KeyAuditArchiveDir   = "audit.archive-dir"
	KeyStorageBackend    = "storage.backend"
	KeyStoragePath       = "storage.path"
	KeyDoltHost          = "dolt.host"
	KeyDoltPort          = "dolt.port"
	KeyDoltUser          = "dolt.user"
	KeyDoltPassword      = "dolt.password"
	KeyDoltDatabase      = "dolt.database"
	KeyDoltPath          = "dolt.path"
	KeyMaxAttempts       = "transition.max-attempts"
	KeyActor             = "actor"
	KeyJSON              = "json"
	KeyPolicyDebounce    = "policy.watch-debounce"
	KeySLAReportParallel = "sla.report-concurrency"
)

var (
	v *viper.Viper
	// projectDir is the directory containing the discovered .grievance
	// directory, or "" when no project config was found.
	projectDir string
)

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup, and again by tests that
// change the environment or working directory.
func Initialize() error {
	v = viper.New()
	projectDir = ""

	v.SetConfigType("yaml")

	// Project config wins over the user's XDG config.
	if path, dir, ok := findProjectConfig(); ok {
		v.SetConfigFile(path)
		projectDir = dir
	} else if path, ok := findUserConfig(); ok {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	RegisterDefaults()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return nil
}

// RegisterDefaults installs the default value for every known key.
func RegisterDefaults() {
	if v == nil {
		return
	}
	v.SetDefault(KeyPolicyPath, "")
	v.SetDefault(KeyPolicyWatch, false)
	v.SetDefault(KeyPolicyDebounce, 200*time.Millisecond)
	v.SetDefault(KeyAuditPath, filepath.Join(DirName, "audit.jsonl"))
	v.SetDefault(KeyAuditArchiveDir, filepath.Join(DirName, "audit-archive"))
	v.SetDefault(KeyStorageBackend, string(BackendMemory))
	v.SetDefault(KeyStoragePath, filepath.Join(DirName, "claims.json"))
	v.SetDefault(KeyDoltHost, "127.0.0.1")
	v.SetDefault(KeyDoltPort, 3307)
	v.SetDefault(KeyDoltUser, "root")
	v.SetDefault(KeyDoltPassword, "")
	v.SetDefault(KeyDoltDatabase, "grievance")
	v.SetDefault(KeyDoltPath, filepath.Join(DirName, "dolt"))
	v.SetDefault(KeyMaxAttempts, 3)
	v.SetDefault(KeySLAReportParallel, 8)
	v.SetDefault(KeyActor, "")
	v.SetDefault(KeyJSON, false)
}

// ResetForTesting clears the singleton and re-initializes it from the current
// environment and working directory.
func ResetForTesting() {
	v = nil
	projectDir = ""
	_ = Initialize()
}

// findProjectConfig walks up from the working directory looking for
// .grievance/config.yaml.
func findProjectConfig() (path, dir string, ok bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", false
	}
	for d := cwd; ; d = filepath.Dir(d) {
		candidate := filepath.Join(d, DirName, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, d, true
		}
		if filepath.Dir(d) == d {
			return "", "", false
		}
	}
}

func findUserConfig() (string, bool) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		base = filepath.Join(home, ".config")
	}
	candidate := filepath.Join(base, "grievance", "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	return "", false
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// ProjectDir returns the directory holding the discovered .grievance
// directory, or "" when running without project config.
func ProjectDir() string {
	return projectDir
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value. Used by flag overrides and tests.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
