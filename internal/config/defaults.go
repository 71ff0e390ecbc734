package config

import "time"

// DefaultAggregationMacros are macros whose content is aggregated from
// elsewhere; tasks inside them are never extracted.
var DefaultAggregationMacros = []string{
	"jira",
	"jiraissues",
	"excerpt",
	"excerpt-include",
	"include",
	"widget",
	"html",
	"content-report-table",
	"pagetree",
	"recently-updated",
	"table-excerpt",
	"table-excerpt-include",
	"table-filter",
	"table-pivot",
	"table-transformer",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Confluence: ConfluenceConfig{
			MacroServerName: "System JIRA",
			Timeout:         30 * time.Second,
		},
		Jira: JiraConfig{
			TaskIssueType:       "Task",
			ParentIssueTypes:    []string{"Work Package", "Risk", "Deviation"},
			MirrorIssueTypes:    []string{"Phase", "Work Package", "Work Container"},
			ChildrenJQL:         `parent = "%s" ORDER BY key ASC`,
			SummaryMaxChars:     255,
			DescriptionMaxChars: 32000,
			Statuses: StatusConfig{
				Reverted:  "Backlog",
				Completed: "Done",
			},
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Workers:           8,
			MaxDepth:          10,
			MatchThreshold:    0.75,
			DueDateOffsetDays: 14,
			NaturalDueDates:   true,
			AggregationMacros: append([]string(nil), DefaultAggregationMacros...),
			RequestUser:       "unknown_user",
		},
		Retry: RetryConfig{
			Read: RetryPolicyConfig{
				MaxAttempts: 4,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2,
				Jitter:      0.2,
			},
			Write: RetryPolicyConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    10 * time.Second,
				Multiplier:  2,
				Jitter:      0.2,
			},
		},
		Store: StoreConfig{
			Path:      ".tasksync/runs.db",
			Retention: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Spool: SpoolConfig{
			InputDir:  "input",
			OutputDir: "output",
			Debounce:  250 * time.Millisecond,
		},
	}
}
