// Package config loads the taskmirror configuration: store locations,
// replica endpoints, cloud settings, and pass tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the full taskmirror configuration.
type Config struct {
	// LocalDB is the path to the local sqlite task database.
	LocalDB string `yaml:"local_db" mapstructure:"local_db"`

	// LedgerDB is the path to the sync ledger database.
	LedgerDB string `yaml:"ledger_db" mapstructure:"ledger_db"`

	// LockFile guards the execute phase against concurrent processes.
	LockFile string `yaml:"lock_file" mapstructure:"lock_file"`

	// Replicas lists the remote replica databases to mirror into.
	Replicas []ReplicaConfig `yaml:"replicas" mapstructure:"replicas"`

	// Cloud configures the cloud task service integration.
	Cloud CloudConfig `yaml:"cloud" mapstructure:"cloud"`

	// Sync tunes pass behavior.
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Dashboard configures the monitoring server.
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
}

// ReplicaConfig is one remote replica endpoint.
type ReplicaConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	URL  string `yaml:"url" mapstructure:"url"`

	// AuthTokenEnv names the environment variable holding the replica's
	// auth token. Tokens never live in the config file itself.
	AuthTokenEnv string `yaml:"auth_token_env" mapstructure:"auth_token_env"`
}

// AuthToken resolves the replica's token from the environment. Empty when
// unset, which is fine for replicas that don't require one.
func (r ReplicaConfig) AuthToken() string {
	if r.AuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(r.AuthTokenEnv)
}

// CloudConfig configures the cloud task service.
type CloudConfig struct {
	// Enabled turns the cloud side on. Off by default: a fresh install
	// syncs local against replicas only.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ListTitle is the cloud task list to mirror.
	ListTitle string `yaml:"list_title" mapstructure:"list_title"`

	// CredentialsFile and TokenFile override the default OAuth file
	// locations.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	TokenFile       string `yaml:"token_file" mapstructure:"token_file"`
}

// SyncConfig tunes reconciliation passes.
type SyncConfig struct {
	// Strategy is "newest-wins" (default) or "source-wins".
	Strategy string `yaml:"strategy" mapstructure:"strategy"`

	// PreferredSource is consulted by the source-wins strategy:
	// "local", "replica", or "cloud".
	PreferredSource string `yaml:"preferred_source" mapstructure:"preferred_source"`

	// Tolerance is the timestamp drift window.
	Tolerance time.Duration `yaml:"tolerance" mapstructure:"tolerance"`

	// FetchTimeout bounds each store fetch during a pass.
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`

	// Interval is the daemon's periodic pass interval.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Debounce batches rapid local changes before the daemon triggers a
	// pass.
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`

	// LogFile, when set, sends daemon logs to a rotated file instead of
	// stderr.
	LogFile string `yaml:"log_file" mapstructure:"log_file"`
}

// DashboardConfig configures the monitoring server.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the configuration used when no file exists:
// everything under ~/.local/share and ~/.config per XDG convention,
// no replicas, cloud off.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		LocalDB:  filepath.Join(dataDir, "tasks.db"),
		LedgerDB: filepath.Join(dataDir, "ledger.db"),
		LockFile: filepath.Join(dataDir, "sync.lock"),
		Cloud: CloudConfig{
			ListTitle: "Tasks",
		},
		Sync: SyncConfig{
			Strategy:     "newest-wins",
			Tolerance:    time.Second,
			FetchTimeout: 30 * time.Second,
			Interval:     5 * time.Minute,
			Debounce:     500 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks the configuration for contradictions a pass would trip
// over at runtime.
func (c *Config) Validate() error {
	if c.LocalDB == "" {
		return fmt.Errorf("local_db cannot be empty")
	}
	if c.LedgerDB == "" {
		return fmt.Errorf("ledger_db cannot be empty")
	}
	switch c.Sync.Strategy {
	case "", "newest-wins":
	case "source-wins":
		switch c.Sync.PreferredSource {
		case "local", "replica", "cloud":
		default:
			return fmt.Errorf("source-wins strategy requires preferred_source of local, replica, or cloud (got %q)", c.Sync.PreferredSource)
		}
	default:
		return fmt.Errorf("unknown sync strategy %q", c.Sync.Strategy)
	}
	seen := make(map[string]bool, len(c.Replicas))
	for _, r := range c.Replicas {
		if r.Name == "" {
			return fmt.Errorf("replica name cannot be empty")
		}
		if r.URL == "" {
			return fmt.Errorf("replica %s: url cannot be empty", r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate replica name %q", r.Name)
		}
		seen[r.Name] = true
	}
	if c.Sync.Tolerance < 0 {
		return fmt.Errorf("tolerance cannot be negative")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "taskmirror")
}
