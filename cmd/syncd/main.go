// Command syncd runs one replica of the offline-first sync engine: it loads
// configuration, opens the operation log, wires its adapters (currently a
// single Null adapter; the configuration has no adapter settings), and
// runs the scheduler until a shutdown signal arrives. Modeled on the
// teacher's syncbased daemon (services/syncbase/syncbased/main.go): a thin
// main that parses flags/config, builds the service, and waits on shutdown
// signals — generalized from v23.Init()/xrpc/signals to cobra/viper/zap and
// signal.NotifyContext.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ordokr/lms-syncd/internal/batch"
	"github.com/ordokr/lms-syncd/internal/conflict"
	"github.com/ordokr/lms-syncd/internal/config"
	"github.com/ordokr/lms-syncd/internal/oplog"
	"github.com/ordokr/lms-syncd/internal/replicaid"
	"github.com/ordokr/lms-syncd/internal/scheduler"
	"github.com/ordokr/lms-syncd/internal/syncengine"
	"github.com/ordokr/lms-syncd/internal/telemetry"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "syncd",
		Short: "offline-first LMS/forum sync daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	tel, err := telemetry.New(log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	store, err := oplog.Open(cfg.DataDir + "/syncd.db")
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	self, err := replicaid.Resolve(ctx, store.DB(), cfg.ReplicaID)
	if err != nil {
		return err
	}
	log.Info("resolved replica identity", zap.String("replica_id", string(self)))

	resolver, err := conflict.NewResolver(cfg.ConflictCacheSize)
	if err != nil {
		return err
	}

	engine, err := syncengine.New(ctx, self, store, resolver, tel)
	if err != nil {
		return err
	}
	engine.SetConflictBatchSize(cfg.ConflictBatchSize())

	// A fresh deployment has no configured peer/external adapters wired in
	// yet; the Null adapter keeps the scheduler loop exercised end-to-end.
	// Real deployments construct batch.PeerAdapter/batch.ExternalAdapter
	// values here from cfg and pass them instead.
	adapters := []batch.Adapter{&batch.NullAdapter{Self: "null"}}

	sched := scheduler.New(engine, adapters, cfg.CheckInterval(), cfg.SyncInterval(), cfg.MaxBatchSize, tel)

	log.Info("syncd starting",
		zap.Duration("check_interval", cfg.CheckInterval()),
		zap.Duration("sync_interval", cfg.SyncInterval()),
		zap.Int("max_batch_size", cfg.MaxBatchSize),
	)

	if err := sched.Run(ctx); err != nil {
		return err
	}
	log.Info("syncd stopped", zap.Time("at", time.Now()))
	return nil
}
