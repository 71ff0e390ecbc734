package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/api"
	"github.com/Mschirtzinger/tasksync/internal/dashboard"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "services",
	Short:   "Serve sync, undo and project sync over HTTP",
	Long: `Start the HTTP API.

Endpoints:
  POST /sync-task        sync pages into issues
  POST /undo-sync-task   reverse a sync (ledger body or {"sync_request_id"})
  POST /sync-project     mirror an issue hierarchy into pages
  GET  /runs, /runs/:id  run history
  GET  /health, /ready   probes (no API key)

Every operation requires the X-API-Key header to match server.api_key.

Progress events are published on a WebSocket feed: under /feed/ws on the
API port, or on its own port with --dashboard-port.

Example usage:
  TASKSYNC_SERVER_API_KEY=secret tsync serve --addr :8000`,
	Run: func(cmd *cobra.Command, args []string) {
		e := newEnv()
		defer e.Close()

		cfg := e.cfg
		addr := cfg.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		feedPort := cfg.Server.DashboardPort
		if cmd.Flags().Changed("dashboard-port") {
			feedPort, _ = cmd.Flags().GetInt("dashboard-port")
		}
		if cfg.Server.APIKey == "" {
			fmt.Fprintf(os.Stderr, "%s server.api_key is not set; every operation will be refused\n", ui.RenderWarn("⚠"))
		}
		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}

		feed := dashboard.NewServer(&dashboard.Config{Port: feedPort, Logger: e.logger.For("dashboard")})
		e.build(feed)
		if e.store != nil {
			if _, err := e.app.Prune(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to prune run history: %v\n", err)
			}
		}

		var mounted http.Handler
		if feedPort > 0 {
			if err := feed.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
		} else {
			mounted = feed.Handler()
		}

		server := api.NewServer(e.app, api.Config{
			Addr:   addr,
			APIKey: cfg.Server.APIKey,
			Feed:   mounted,
			Logger: e.logger.For("api"),
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start server: %v", err)
		}

		fmt.Printf("%s API listening on http://%s\n", ui.RenderAccent("🚀"), server.Addr())
		if feedPort > 0 {
			fmt.Printf("   Progress feed: ws://%s/ws\n", feed.GetAddr())
		} else {
			fmt.Printf("   Progress feed: ws://%s/feed/ws\n", server.Addr())
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signalContext()
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := server.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		if err := feed.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
		}
		fmt.Println("Server stopped")
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8000", "Address to listen on (default: server.addr)")
	serveCmd.Flags().Int("dashboard-port", 0, "Serve the progress feed on its own port (default: mounted at /feed)")

	rootCmd.AddCommand(serveCmd)
}
