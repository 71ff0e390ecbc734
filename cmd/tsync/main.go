// Command tsync turns the incomplete tasks of Confluence pages into Jira
// issues, reverses such runs, and mirrors Jira project hierarchies into
// Confluence pages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configPath string
	demoMode   bool
	noStore    bool
	noColor    bool
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "tsync",
	Short: "Sync Confluence tasks into Jira issues",
	Long: `tsync turns the incomplete tasks of Confluence pages into Jira issues and
links each task to its issue in place.

Every sync run records a ledger: one entry per task with the exact markup
that was replaced. The ledger (or the request id it was stored under) is
all an undo run needs to reverse the sync.

Configuration is read from --config (YAML, TOML or JSON) and TASKSYNC_*
environment variables, e.g. TASKSYNC_JIRA_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout, noColor)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "services", Title: "Services:"},
		&cobra.Group{ID: "history", Title: "Run history:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (YAML, TOML or JSON)")
	pf.BoolVar(&demoMode, "demo", false, "Use seeded in-memory services instead of Confluence and Jira")
	pf.BoolVar(&noStore, "no-store", false, "Do not record runs in the run history")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&jsonOutput, "json", false, "Print reports as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fatalf("failed to encode output: %v", err)
	}
}

// exitForStatus ends the process with status 2 when nothing succeeded.
func exitForStatus(overall string) {
	if overall == ledger.OverallFailed {
		os.Exit(2)
	}
}
