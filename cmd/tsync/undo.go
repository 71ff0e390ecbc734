package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/ui"
	"github.com/Mschirtzinger/tasksync/internal/undo"
)

var undoCmd = &cobra.Command{
	Use:     "undo [ledger-file]",
	GroupID: "ops",
	Short:   "Reverse a sync run",
	Long: `Reverse a sync run: every issue it created is moved back to the
reverted status and every task link it wrote is replaced by the original
task markup.

The run is named either by a ledger file (JSON, JSONL or YAML) or by the
request id it was stored under (--request-id).

Pages edited since the sync are restored only where the link can still be
located; entries that cannot be restored safely are reported, never guessed.

Example usage:
  tsync undo run.json
  tsync undo --request-id 3f2a... --yes`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		syncID, _ := cmd.Flags().GetString("request-id")
		yes, _ := cmd.Flags().GetBool("yes")
		if (len(args) == 0) == (syncID == "") {
			fatalf("give either a ledger file or --request-id")
		}

		req := app.UndoRequest{}
		what := "run " + syncID
		if len(args) == 1 {
			l, err := ledger.ReadFile(args[0])
			if err != nil {
				fatalf("%v", err)
			}
			req.Ledger = l
			what = fmt.Sprintf("%d ledger entries from %s", len(l), args[0])
		} else {
			req.SyncRequestID = syncID
		}

		if !yes && !confirm("Undo "+what+"?") {
			fmt.Println("Cancelled")
			return
		}

		e := openEnv(nil)
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		start := time.Now()
		report, err := e.app.Undo(ctx, req)
		if err != nil {
			fatalf("undo failed: %v", err)
		}
		if jsonOutput {
			printJSON(report)
		} else {
			printUndoReport(report, time.Since(start))
		}
		exitForStatus(report.Status)
	},
}

// confirm asks for confirmation on an interactive terminal. Without one
// the answer is no; use --yes in scripts.
func confirm(title string) bool {
	if !ui.IsTerminal(os.Stdin) || !ui.IsTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr, "Not a terminal; pass --yes to confirm")
		return false
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description("Issues are moved back and task links are replaced by the original tasks.").
		Affirmative("Undo").
		Negative("Cancel").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false
	}
	if err != nil {
		fatalf("%v", err)
	}
	return ok
}

func printUndoReport(r *undo.Report, elapsed time.Duration) {
	if len(r.Entries) > 0 {
		fmt.Println(ui.UndoTable(r.Entries))
	}
	counts := make(map[string]int)
	for _, u := range r.Entries {
		counts[u.Status]++
	}
	fmt.Printf("%s %s in %v\n", ui.Symbol(r.Status), r.Status, elapsed.Round(time.Millisecond))
	fmt.Printf("   Request: %s\n", r.RequestID)
	fmt.Printf("   Reverted: %d  Partial: %d  Failed: %d  Skipped: %d\n",
		counts[ledger.StatusSuccess], counts[ledger.StatusPartial], counts[ledger.StatusFailure], counts[ledger.StatusSkipped])
}

func init() {
	undoCmd.Flags().String("request-id", "", "Request id of the stored sync run to reverse")
	undoCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(undoCmd)
}
