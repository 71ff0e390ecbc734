package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/treesync"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:     "project <issue-key> <page-url>",
	GroupID: "ops",
	Short:   "Mirror a Jira issue hierarchy into Confluence pages",
	Long: `Mirror the issue hierarchy below <issue-key> into pages below <page-url>.

Every phase, work package and work container gets one page, nested like the
issues. Pages are matched to issues by an anchor, so renamed pages keep
their identity; rerunning updates only the block tsync owns.

Example usage:
  tsync project PRJ-1 https://wiki.example.com/pages/100`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")

		e := openEnv(nil)
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if !jsonOutput {
			fmt.Printf("%s Mirroring %s into page %s...\n", ui.RenderAccent("🔄"), args[0], args[1])
		}
		start := time.Now()
		report, err := e.app.SyncProject(ctx, app.ProjectRequest{
			RequestUser:  user,
			RootIssueKey: args[0],
			RootDocument: args[1],
		})
		if err != nil {
			fatalf("project sync failed: %v", err)
		}
		if jsonOutput {
			printJSON(report)
		} else {
			printProjectReport(report, time.Since(start))
		}
		exitForStatus(report.Status)
	},
}

func printProjectReport(r *treesync.Report, elapsed time.Duration) {
	if len(r.Pages) > 0 {
		fmt.Println(ui.PagesTable(r.Pages))
	}
	c := r.Counts()
	fmt.Printf("%s %s in %v\n", ui.Symbol(r.Status), r.Status, elapsed.Round(time.Millisecond))
	fmt.Printf("   Request: %s\n", r.RequestID)
	fmt.Printf("   Created: %d  Updated: %d  Unchanged: %d  Failed: %d\n",
		c[treesync.ActionCreated], c[treesync.ActionUpdated], c[treesync.ActionUnchanged], c[treesync.ActionFailed])
}

func init() {
	projectCmd.Flags().StringP("user", "u", "", "User the request is made on behalf of")

	rootCmd.AddCommand(projectCmd)
}
