package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/spool"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "services",
	Short:   "Run request files dropped into a directory",
	Long: `Start the spool daemon in the foreground.

The daemon runs every request file in the input directory, then watches it
for new ones. A request file is JSON or YAML:

  kind: sync                    kind: undo               kind: project
  urls: ["12345"]               sync_request_id: ...     root_issue_key: PRJ-1
  request_user: alice                                    root_document: "100"

A file holding a bare ledger (JSON array, JSONL or YAML list) is an undo
request for that ledger.

For every request <name>.report.json (and, for syncs, <name>.ledger.json) is
written to the output directory and the request file is moved next to it.

Example usage:
  tsync watch --in requests --out results`,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(nil)
		defer e.Close()

		sc := spool.FromConfig(e.cfg.Spool, e.logger.For("spool"))
		if cmd.Flags().Changed("in") {
			sc.InputDir, _ = cmd.Flags().GetString("in")
		}
		if cmd.Flags().Changed("out") {
			sc.OutputDir, _ = cmd.Flags().GetString("out")
		}

		d, err := spool.New(e.app, sc)
		if err != nil {
			fatalf("failed to create spool: %v", err)
		}
		d.OnProcessed = func(o spool.Outcome) {
			if o.Err != nil {
				fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), o.Input, o.Err)
				return
			}
			fmt.Printf("%s %s: %s -> %s\n", ui.Symbol(o.Status), o.Input, o.Status, o.Report)
		}

		fmt.Printf("%s Starting spool...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Input: %s\n", sc.InputDir)
		fmt.Printf("   Output: %s\n", sc.OutputDir)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signalContext()
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fatalf("spool stopped with error: %v", err)
		}
	},
}

func init() {
	watchCmd.Flags().String("in", "input", "Directory to take request files from (default: spool.input_dir)")
	watchCmd.Flags().String("out", "output", "Directory to write reports to (default: spool.output_dir)")

	rootCmd.AddCommand(watchCmd)
}
