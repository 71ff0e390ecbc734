package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/syncer"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync <page-url>...",
	GroupID: "ops",
	Short:   "Create Jira issues for the incomplete tasks of pages",
	Long: `Sync every incomplete task on the given pages and all their descendant
pages into a Jira issue under the nearest work package, then replace the task
with a link to its issue.

Pages may be given as full URLs, /pages/<id>/ paths or bare page ids.

The ledger of the run is stored in the run history under the request id and,
with --ledger, written to a file (JSON, JSONL or YAML by extension).

Example usage:
  tsync sync https://wiki.example.com/pages/viewpage.action?pageId=12345
  tsync sync 12345 --user alice --days-to-due 7 --ledger run.json`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		ledgerPath, _ := cmd.Flags().GetString("ledger")
		requestID, _ := cmd.Flags().GetString("request-id")

		req := app.SyncRequest{RequestID: requestID, RequestUser: user, URLs: args}
		if cmd.Flags().Changed("days-to-due") {
			days, _ := cmd.Flags().GetInt("days-to-due")
			req.DaysToDueDate = &days
		}

		e := openEnv(nil)
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if !jsonOutput {
			fmt.Printf("%s Syncing %d page(s)...\n", ui.RenderAccent("🔄"), len(args))
		}
		start := time.Now()
		report, err := e.app.Sync(ctx, req)
		if err != nil {
			fatalf("sync failed: %v", err)
		}

		if ledgerPath != "" {
			if err := ledger.WriteFile(ledgerPath, report.Entries); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing ledger: %v\n", err)
			}
		}

		if jsonOutput {
			printJSON(report)
		} else {
			printSyncReport(report, time.Since(start))
			if ledgerPath != "" {
				fmt.Printf("   Ledger: %s\n", ledgerPath)
			}
		}
		exitForStatus(report.Status)
	},
}

func printSyncReport(r *syncer.Report, elapsed time.Duration) {
	success, failure, skipped := r.Entries.Counts()
	if len(r.Entries) > 0 {
		fmt.Println(ui.SyncTable(r.Entries))
	}
	for _, p := range r.Problems {
		fmt.Printf("%s %s: %s\n", ui.RenderWarn("⚠"), p.Root, p.Reason)
	}
	fmt.Printf("%s %s in %v\n", ui.Symbol(r.Status), r.Status, elapsed.Round(time.Millisecond))
	fmt.Printf("   Request: %s\n", r.RequestID)
	fmt.Printf("   Created: %d  Failed: %d  Skipped: %d\n", success, failure, skipped)
}

func init() {
	syncCmd.Flags().StringP("user", "u", "", "User the request is made on behalf of")
	syncCmd.Flags().Int("days-to-due", 0, "Due date offset in days for tasks without a date")
	syncCmd.Flags().StringP("ledger", "o", "", "Also write the ledger to this file")
	syncCmd.Flags().String("request-id", "", "Request id to store the run under (default: random)")

	rootCmd.AddCommand(syncCmd)
}
