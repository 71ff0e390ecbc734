// Package config holds the process configuration. A Config is built once at
// startup by Load and then passed by value into every component; no engine
// code reads configuration from anywhere else.
package config

import "time"

// Config is the root configuration value.
type Config struct {
	Confluence ConfluenceConfig `mapstructure:"confluence"`
	Jira       JiraConfig       `mapstructure:"jira"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Store      StoreConfig      `mapstructure:"store"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Spool      SpoolConfig      `mapstructure:"spool"`
}

// ConfluenceConfig configures the document service gateway.
type ConfluenceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`

	// Jira macro parameters specific to the Confluence instance's
	// application link.
	MacroServerName string `mapstructure:"macro_server_name"`
	MacroServerID   string `mapstructure:"macro_server_id"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// JiraConfig configures the issue service gateway and issue shapes.
type JiraConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`

	// ProjectKey is used when the parent issue key carries no project.
	ProjectKey string `mapstructure:"project_key"`

	TaskIssueType    string   `mapstructure:"task_issue_type"`
	ParentIssueTypes []string `mapstructure:"parent_issue_types"`
	MirrorIssueTypes []string `mapstructure:"mirror_issue_types"`

	// ParentField is the custom field linking a task to its work package
	// (e.g. "customfield_10207"). Empty uses the standard parent field.
	ParentField string `mapstructure:"parent_field"`

	// ChildrenJQL lists direct children of an issue; %s is the key.
	ChildrenJQL string `mapstructure:"children_jql"`

	SummaryMaxChars     int `mapstructure:"summary_max_chars"`
	DescriptionMaxChars int `mapstructure:"description_max_chars"`

	Statuses StatusConfig `mapstructure:"statuses"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// StatusConfig names target statuses for issue transitions.
type StatusConfig struct {
	Reverted  string `mapstructure:"reverted"`
	Completed string `mapstructure:"completed"`
	NewTask   string `mapstructure:"new_task"` // empty: leave new issues in their initial status
}

// SyncConfig tunes the engines.
type SyncConfig struct {
	Workers  int `mapstructure:"workers"`
	MaxDepth int `mapstructure:"max_depth"`

	// MatchThreshold is the minimum normalized similarity (0..1) for a
	// fuzzy relocation. Higher means fewer relocations and more
	// fail-closed results.
	MatchThreshold float64 `mapstructure:"match_threshold"`

	DueDateOffsetDays int      `mapstructure:"due_date_offset_days"`
	NaturalDueDates   bool     `mapstructure:"natural_due_dates"`
	AggregationMacros []string `mapstructure:"aggregation_macros"`
	RequestUser       string   `mapstructure:"request_user"`
}

// RetryConfig holds one retry budget per remote call class.
type RetryConfig struct {
	Read  RetryPolicyConfig `mapstructure:"read"`
	Write RetryPolicyConfig `mapstructure:"write"`
}

// RetryPolicyConfig is bounded exponential backoff with jitter.
type RetryPolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

// ServerConfig configures the HTTP request surface.
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	APIKey        string `mapstructure:"api_key"`
	DashboardPort int    `mapstructure:"dashboard_port"`
}

// SpoolConfig configures the request spool directories.
type SpoolConfig struct {
	InputDir  string        `mapstructure:"input_dir"`
	OutputDir string        `mapstructure:"output_dir"`
	Debounce  time.Duration `mapstructure:"debounce"`
}
