package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sync directions
const (
	DirectionLocalToRemote = "local_to_remote"
	DirectionRemoteToLocal = "remote_to_local"
	DirectionBidirectional = "bidirectional"
)

// Trigger modes
const (
	TriggerOnCreate       = "on_create"
	TriggerOnUpdate       = "on_update"
	TriggerOnCreateUpdate = "on_create_update"
)

// Conflict policies
const (
	ConflictLastWriteWins = "last_write_wins"
	ConflictPushWins      = "push_wins"
)

// DefaultBaseURL is the public ProspectConnect API endpoint
const DefaultBaseURL = "https://api.prospectconnect.ai"

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	// ============ REMOTE ============
	APIKey             string  `mapstructure:"api_key" json:"api_key"`
	BaseURL            string  `mapstructure:"base_url" json:"base_url"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" json:"rate_limit_per_second"`

	// ============ BEHAVIOUR ============
	Direction      string        `mapstructure:"sync_direction" json:"sync_direction"`
	TriggerMode    string        `mapstructure:"trigger_mode" json:"trigger_mode"`
	ConflictPolicy string        `mapstructure:"conflict_policy" json:"conflict_policy"`
	Entities       EntityToggles `mapstructure:"entities" json:"entities"`

	// ============ SCHEDULING ============
	SchedulerEnabled    bool `mapstructure:"scheduler_enabled" json:"scheduler_enabled"`
	PollIntervalMinutes int  `mapstructure:"poll_interval_minutes" json:"poll_interval_minutes"`
	NightlyHour         int  `mapstructure:"nightly_hour" json:"nightly_hour"`
	SyncOnStartup       bool `mapstructure:"sync_on_startup" json:"sync_on_startup"`

	// ============ LIMITS ============
	BatchSize          int `mapstructure:"batch_size" json:"batch_size"`
	PageLimit          int `mapstructure:"page_limit" json:"page_limit"`
	MaxPages           int `mapstructure:"max_pages" json:"max_pages"`
	PullWindowDays     int `mapstructure:"pull_window_days" json:"pull_window_days"`
	ReconcileDays      int `mapstructure:"reconcile_days" json:"reconcile_days"`
	PushTimeoutSeconds int `mapstructure:"push_timeout_seconds" json:"push_timeout_seconds"`
	PullTimeoutSeconds int `mapstructure:"pull_timeout_seconds" json:"pull_timeout_seconds"`
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds" json:"backoff_base_seconds"`
	BackoffMaxSeconds  int `mapstructure:"backoff_max_seconds" json:"backoff_max_seconds"`
	StaleJobMinutes    int `mapstructure:"stale_job_minutes" json:"stale_job_minutes"`
	LeaseSeconds       int `mapstructure:"lease_seconds" json:"lease_seconds"`
}

// EntityToggles enables sync per object type
type EntityToggles struct {
	Contacts bool `mapstructure:"contacts" json:"contacts"`
	Deals    bool `mapstructure:"deals" json:"deals"`
	Tasks    bool `mapstructure:"tasks" json:"tasks"`
	Notes    bool `mapstructure:"notes" json:"notes"`
}

// DefaultSyncConfig returns the built-in defaults. Only contacts sync out of the box.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		BaseURL:             DefaultBaseURL,
		RateLimitPerSecond:  5,
		Direction:           DirectionBidirectional,
		TriggerMode:         TriggerOnCreateUpdate,
		ConflictPolicy:      ConflictLastWriteWins,
		Entities:            EntityToggles{Contacts: true},
		SchedulerEnabled:    true,
		PollIntervalMinutes: 5,
		NightlyHour:         2,
		SyncOnStartup:       true,
		BatchSize:           100,
		PageLimit:           100,
		MaxPages:            50,
		PullWindowDays:      30,
		ReconcileDays:       7,
		PushTimeoutSeconds:  20,
		PullTimeoutSeconds:  30,
		BackoffBaseSeconds:  30,
		BackoffMaxSeconds:   3600,
		StaleJobMinutes:     15,
		LeaseSeconds:        300,
	}
}

// LoadSyncConfig builds the sync configuration from defaults, an optional config file
// (path argument or PCSYNC_CONFIG_PATH) and PCSYNC_* environment overrides.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	setSyncDefaults(v, DefaultSyncConfig())

	v.SetEnvPrefix("PCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("PCSYNC_CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read sync config %s: %w", path, err)
		}
	}

	var cfg SyncConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode sync config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setSyncDefaults(v *viper.Viper, d *SyncConfig) {
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("rate_limit_per_second", d.RateLimitPerSecond)
	v.SetDefault("sync_direction", d.Direction)
	v.SetDefault("trigger_mode", d.TriggerMode)
	v.SetDefault("conflict_policy", d.ConflictPolicy)
	v.SetDefault("entities.contacts", d.Entities.Contacts)
	v.SetDefault("entities.deals", d.Entities.Deals)
	v.SetDefault("entities.tasks", d.Entities.Tasks)
	v.SetDefault("entities.notes", d.Entities.Notes)
	v.SetDefault("scheduler_enabled", d.SchedulerEnabled)
	v.SetDefault("poll_interval_minutes", d.PollIntervalMinutes)
	v.SetDefault("nightly_hour", d.NightlyHour)
	v.SetDefault("sync_on_startup", d.SyncOnStartup)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("page_limit", d.PageLimit)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("pull_window_days", d.PullWindowDays)
	v.SetDefault("reconcile_days", d.ReconcileDays)
	v.SetDefault("push_timeout_seconds", d.PushTimeoutSeconds)
	v.SetDefault("pull_timeout_seconds", d.PullTimeoutSeconds)
	v.SetDefault("backoff_base_seconds", d.BackoffBaseSeconds)
	v.SetDefault("backoff_max_seconds", d.BackoffMaxSeconds)
	v.SetDefault("stale_job_minutes", d.StaleJobMinutes)
	v.SetDefault("lease_seconds", d.LeaseSeconds)
}

// Validate reports invalid configuration values. A missing API key is not an error here;
// it is reported as not configured by the remote client when a call is attempted.
func (c *SyncConfig) Validate() error {
	switch c.Direction {
	case DirectionLocalToRemote, DirectionRemoteToLocal, DirectionBidirectional:
	default:
		return fmt.Errorf("invalid sync_direction %q", c.Direction)
	}
	switch c.TriggerMode {
	case TriggerOnCreate, TriggerOnUpdate, TriggerOnCreateUpdate:
	default:
		return fmt.Errorf("invalid trigger_mode %q", c.TriggerMode)
	}
	switch c.ConflictPolicy {
	case ConflictLastWriteWins, ConflictPushWins:
	default:
		return fmt.Errorf("invalid conflict_policy %q", c.ConflictPolicy)
	}
	if c.PollIntervalMinutes <= 0 {
		return fmt.Errorf("poll_interval_minutes must be positive")
	}
	if c.NightlyHour < 0 || c.NightlyHour > 23 {
		return fmt.Errorf("nightly_hour must be between 0 and 23")
	}
	if c.PageLimit <= 0 || c.MaxPages <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("page_limit, max_pages and batch_size must be positive")
	}
	return nil
}

// Configured reports whether remote credentials are present
func (c *SyncConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// PushAllowed reports whether local changes may flow to the remote
func (c *SyncConfig) PushAllowed() bool {
	return c.Direction == DirectionLocalToRemote || c.Direction == DirectionBidirectional
}

// PullAllowed reports whether remote changes may flow to the host
func (c *SyncConfig) PullAllowed() bool {
	return c.Direction == DirectionRemoteToLocal || c.Direction == DirectionBidirectional
}

// EntityEnabled reports whether the object type (contact, deal, task, note) is toggled on
func (c *SyncConfig) EntityEnabled(objectType string) bool {
	switch objectType {
	case "contact":
		return c.Entities.Contacts
	case "deal":
		return c.Entities.Deals
	case "task":
		return c.Entities.Tasks
	case "note":
		return c.Entities.Notes
	}
	return false
}

// TriggerMatches reports whether a create or update event should enqueue a job
func (c *SyncConfig) TriggerMatches(event string) bool {
	switch c.TriggerMode {
	case TriggerOnCreateUpdate:
		return event == "create" || event == "update"
	case TriggerOnCreate:
		return event == "create"
	case TriggerOnUpdate:
		return event == "update"
	}
	return false
}

// PollInterval returns the incremental sync period
func (c *SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// PushTimeout bounds a single job
func (c *SyncConfig) PushTimeout() time.Duration {
	return seconds(c.PushTimeoutSeconds, 20)
}

// PullTimeout bounds a single page fetch
func (c *SyncConfig) PullTimeout() time.Duration {
	return seconds(c.PullTimeoutSeconds, 30)
}

// Backoff returns the retry delay after the given number of failures
func (c *SyncConfig) Backoff(retryCount int) time.Duration {
	base := seconds(c.BackoffBaseSeconds, 30)
	ceiling := seconds(c.BackoffMaxSeconds, 3600)
	if retryCount < 1 {
		retryCount = 1
	}
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// StaleJobAfter is how long a job may stay in_progress before it is requeued
func (c *SyncConfig) StaleJobAfter() time.Duration {
	if c.StaleJobMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.StaleJobMinutes) * time.Minute
}

// LeaseTTL is the pull lease lifetime
func (c *SyncConfig) LeaseTTL() time.Duration {
	return seconds(c.LeaseSeconds, 300)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
