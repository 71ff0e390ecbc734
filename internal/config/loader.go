package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TASKSYNC_JIRA_TOKEN.
const EnvPrefix = "TASKSYNC"

// Load builds the configuration from defaults, an optional config file
// (YAML, TOML or JSON by extension) and TASKSYNC_* environment variables,
// in increasing order of precedence. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// that never appear in a config file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("confluence.base_url", d.Confluence.BaseURL)
	v.SetDefault("confluence.token", d.Confluence.Token)
	v.SetDefault("confluence.macro_server_name", d.Confluence.MacroServerName)
	v.SetDefault("confluence.macro_server_id", d.Confluence.MacroServerID)
	v.SetDefault("confluence.timeout", d.Confluence.Timeout)

	v.SetDefault("jira.base_url", d.Jira.BaseURL)
	v.SetDefault("jira.token", d.Jira.Token)
	v.SetDefault("jira.project_key", d.Jira.ProjectKey)
	v.SetDefault("jira.task_issue_type", d.Jira.TaskIssueType)
	v.SetDefault("jira.parent_issue_types", d.Jira.ParentIssueTypes)
	v.SetDefault("jira.mirror_issue_types", d.Jira.MirrorIssueTypes)
	v.SetDefault("jira.parent_field", d.Jira.ParentField)
	v.SetDefault("jira.children_jql", d.Jira.ChildrenJQL)
	v.SetDefault("jira.summary_max_chars", d.Jira.SummaryMaxChars)
	v.SetDefault("jira.description_max_chars", d.Jira.DescriptionMaxChars)
	v.SetDefault("jira.statuses.reverted", d.Jira.Statuses.Reverted)
	v.SetDefault("jira.statuses.completed", d.Jira.Statuses.Completed)
	v.SetDefault("jira.statuses.new_task", d.Jira.Statuses.NewTask)
	v.SetDefault("jira.timeout", d.Jira.Timeout)

	v.SetDefault("sync.workers", d.Sync.Workers)
	v.SetDefault("sync.max_depth", d.Sync.MaxDepth)
	v.SetDefault("sync.match_threshold", d.Sync.MatchThreshold)
	v.SetDefault("sync.due_date_offset_days", d.Sync.DueDateOffsetDays)
	v.SetDefault("sync.natural_due_dates", d.Sync.NaturalDueDates)
	v.SetDefault("sync.aggregation_macros", d.Sync.AggregationMacros)
	v.SetDefault("sync.request_user", d.Sync.RequestUser)

	for name, p := range map[string]RetryPolicyConfig{"read": d.Retry.Read, "write": d.Retry.Write} {
		v.SetDefault("retry."+name+".max_attempts", p.MaxAttempts)
		v.SetDefault("retry."+name+".base_delay", p.BaseDelay)
		v.SetDefault("retry."+name+".max_delay", p.MaxDelay)
		v.SetDefault("retry."+name+".multiplier", p.Multiplier)
		v.SetDefault("retry."+name+".jitter", p.Jitter)
	}

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.retention", d.Store.Retention)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.verbose", d.Log.Verbose)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.api_key", d.Server.APIKey)
	v.SetDefault("server.dashboard_port", d.Server.DashboardPort)

	v.SetDefault("spool.input_dir", d.Spool.InputDir)
	v.SetDefault("spool.output_dir", d.Spool.OutputDir)
	v.SetDefault("spool.debounce", d.Spool.Debounce)
}

// MinDescriptionChars leaves room for the context marker and some context
// in every issue description.
const MinDescriptionChars = 200

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Sync.MatchThreshold <= 0 || c.Sync.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("sync.match_threshold must be in (0, 1], got %v", c.Sync.MatchThreshold))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers))
	}
	if c.Sync.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("sync.max_depth must not be negative, got %d", c.Sync.MaxDepth))
	}
	if n := c.Jira.DescriptionMaxChars; n != 0 && n < MinDescriptionChars {
		errs = append(errs, fmt.Errorf("jira.description_max_chars must be 0 or at least %d, got %d", MinDescriptionChars, n))
	}
	if c.Jira.TaskIssueType == "" {
		errs = append(errs, errors.New("jira.task_issue_type is required"))
	}
	if c.Jira.Statuses.Reverted == "" {
		errs = append(errs, errors.New("jira.statuses.reverted is required"))
	}
	for name, p := range map[string]RetryPolicyConfig{"read": c.Retry.Read, "write": c.Retry.Write} {
		if p.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("retry.%s.max_attempts must be positive, got %d", name, p.MaxAttempts))
		}
		if p.Jitter < 0 || p.Jitter > 1 {
			errs = append(errs, fmt.Errorf("retry.%s.jitter must be in [0, 1], got %v", name, p.Jitter))
		}
	}
	return errors.Join(errs...)
}

// RemotesConfigured reports whether both gateways have a base URL.
func (c Config) RemotesConfigured() bool {
	return c.Confluence.BaseURL != "" && c.Jira.BaseURL != ""
}
