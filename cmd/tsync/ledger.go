package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/syncer"
	"github.com/Mschirtzinger/tasksync/internal/treesync"
	"github.com/Mschirtzinger/tasksync/internal/ui"
	"github.com/Mschirtzinger/tasksync/internal/undo"
)

var ledgerCmd = &cobra.Command{
	Use:     "ledger",
	GroupID: "history",
	Short:   "Inspect and move stored runs",
	Long: `Manage the run history (store.path, default .tasksync/runs.db).

Every sync, undo and project run is stored under its request id. A stored
sync run can be reversed with 'tsync undo --request-id <id>', exported to a
ledger file, or imported from one.`,
}

// openHistory opens only the store; history commands never call remotes.
func openHistory() (*ledger.Store, config.Config, func()) {
	if noStore {
		fatalf("run history is disabled (--no-store)")
	}
	cfg, logger := loadConfig()
	store := openStore(cfg)
	return store, cfg, func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		_ = logger.Close()
	}
}

type runJSON struct {
	RequestID   string    `json:"request_id"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
	RequestUser string    `json:"request_user,omitempty"`
	Status      string    `json:"overall_status"`
	Entries     int       `json:"entries"`
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		store, _, done := openHistory()
		defer done()

		ctx, cancel := signalContext()
		defer cancel()

		runs, err := store.ListRunsContext(ctx, ledger.ListRunsFilter{Kind: kind, Limit: limit})
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			out := make([]runJSON, 0, len(runs))
			for _, r := range runs {
				out = append(out, runJSON{r.RequestID, r.Kind, r.CreatedAt, r.RequestUser, r.Status, r.Entries})
			}
			printJSON(out)
			return
		}
		if len(runs) == 0 {
			fmt.Printf("\n%s No stored runs in %s\n\n", ui.RenderWarn("⚠"), store.Path())
			return
		}
		fmt.Println(ui.RunsTable(runs))
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show the report of a stored run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, _, done := openHistory()
		defer done()

		ctx, cancel := signalContext()
		defer cancel()

		run, err := store.GetRunContext(ctx, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			os.Stdout.Write(run.Payload)
			fmt.Println()
			return
		}

		fmt.Printf("\n%s %s run %s\n", ui.RenderAccent("📊"), run.Kind, run.RequestID)
		fmt.Printf("When: %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if run.RequestUser != "" {
			fmt.Printf("User: %s\n", run.RequestUser)
		}
		fmt.Printf("Status: %s %s\n\n", ui.Symbol(run.Status), run.Status)

		var table string
		switch run.Kind {
		case ledger.KindSync:
			var r syncer.Report
			err = json.Unmarshal(run.Payload, &r)
			table = ui.SyncTable(r.Entries)
		case ledger.KindUndo:
			var r undo.Report
			err = json.Unmarshal(run.Payload, &r)
			table = ui.UndoTable(r.Entries)
		case ledger.KindProject:
			var r treesync.Report
			err = json.Unmarshal(run.Payload, &r)
			table = ui.PagesTable(r.Pages)
		}
		if err != nil {
			fatalf("stored report of %s is unreadable: %v", run.RequestID, err)
		}
		fmt.Println(table)
	},
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export <request-id> <file>",
	Short: "Write the ledger of a stored sync run to a file",
	Long: `Write the ledger of a stored sync run to a file. The encoding follows the
file extension: .json, .jsonl/.ndjson or .yaml/.yml. Use - for JSON on
standard output.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store, _, done := openHistory()
		defer done()

		ctx, cancel := signalContext()
		defer cancel()

		l, err := store.LedgerContext(ctx, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if args[1] == "-" {
			if err := ledger.Encode(os.Stdout, ledger.FormatJSON, l); err != nil {
				fatalf("%v", err)
			}
			return
		}
		if err := ledger.WriteFile(args[1], l); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Exported %d entries to %s\n", ui.RenderPass("✓"), len(l), args[1])
	},
}

var ledgerImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a ledger file as a sync run",
	Long: `Store a ledger file as a sync run so that it can be reversed by request
id, e.g. a ledger produced by another process.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		requestID, _ := cmd.Flags().GetString("request-id")
		user, _ := cmd.Flags().GetString("user")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		l, err := ledger.ReadFile(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		store, _, done := openHistory()
		defer done()

		ctx, cancel := signalContext()
		defer cancel()

		if err := store.SaveLedgerContext(ctx, requestID, user, l); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Imported %d entries as %s\n", ui.RenderPass("✓"), len(l), requestID)
	},
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored runs older than the retention period",
	Run: func(cmd *cobra.Command, args []string) {
		store, cfg, done := openHistory()
		defer done()
		if cfg.Store.Retention <= 0 {
			fmt.Println("Retention is disabled (store.retention = 0)")
			return
		}

		ctx, cancel := signalContext()
		defer cancel()

		n, err := store.PruneContext(ctx, time.Now().Add(-cfg.Store.Retention))
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Pruned %d run(s) older than %v\n", ui.RenderPass("✓"), n, cfg.Store.Retention)
	},
}

func init() {
	ledgerListCmd.Flags().String("kind", "", "Only runs of this kind (sync, undo, project)")
	ledgerListCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs")
	ledgerImportCmd.Flags().String("request-id", "", "Request id to store the run under (default: random)")
	ledgerImportCmd.Flags().StringP("user", "u", "", "User recorded with the run")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)
	ledgerCmd.AddCommand(ledgerImportCmd)
	ledgerCmd.AddCommand(ledgerPruneCmd)
	rootCmd.AddCommand(ledgerCmd)
}
