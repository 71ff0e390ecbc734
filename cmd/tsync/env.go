package main

import (
	"fmt"
	"os"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/config"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
	"github.com/Mschirtzinger/tasksync/internal/logging"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

// env is everything a command needs to run requests.
type env struct {
	cfg    config.Config
	logger *logging.Logger
	store  *ledger.Store
	app    *app.App
}

// loadConfig reads the configuration named by --config.
func loadConfig() (config.Config, *logging.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatalf("%v", err)
	}
	if verbose {
		cfg.Log.Verbose = true
	}
	return cfg, logging.New(cfg.Log)
}

// openStore opens the run history unless --no-store is set.
func openStore(cfg config.Config) *ledger.Store {
	if noStore {
		return nil
	}
	store, err := ledger.Open(cfg.Store.Path)
	if err != nil {
		fatalf("failed to open run history %s: %v", cfg.Store.Path, err)
	}
	return store
}

// openEnv builds the app over the configured gateways, or the demo
// services with --demo. obs may be nil.
func openEnv(obs core.Observer) *env {
	e := newEnv()
	e.build(obs)
	return e
}

// newEnv loads the configuration and opens the store; build completes it.
func newEnv() *env {
	cfg, logger := loadConfig()
	return &env{cfg: cfg, logger: logger, store: openStore(cfg)}
}

func (e *env) build(obs core.Observer) {
	docs, issues, err := gateways(e.cfg, e.logger)
	if err != nil {
		e.Close()
		fatalf("%v", err)
	}
	e.app = app.New(e.cfg, docs, issues, app.Options{
		Store:    e.store,
		Logger:   e.logger.Logger,
		Observer: obs,
	})
	e.logger.Debugf("Config loaded (store=%s demo=%v)", e.cfg.Store.Path, demoMode)
}

func gateways(cfg config.Config, logger *logging.Logger) (core.DocumentService, core.IssueService, error) {
	if demoMode {
		fmt.Fprintf(os.Stderr, "%s Using in-memory demo services\n", ui.RenderWarn("⚠"))
		docs, issues := app.Demo()
		return docs, issues, nil
	}
	return app.Gateways(cfg, logger.For("remote"))
}

// Close releases the store and the log file.
func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	_ = e.logger.Close()
}
