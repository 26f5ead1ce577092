package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/phasecraft/phaseflow/internal/cli"
	"github.com/phasecraft/phaseflow/internal/config"
	internal_http "github.com/phasecraft/phaseflow/internal/http"
	"github.com/phasecraft/phaseflow/internal/log"
	"github.com/phasecraft/phaseflow/internal/metrics"
	internal_storage "github.com/phasecraft/phaseflow/internal/storage"
	"github.com/phasecraft/phaseflow/pkg/engine"
)

var rootCmd = &cobra.Command{Use: "phaseflow"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline engine API server",
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.GetLogger()
		cfg, err := config.LoadConfig()
		if err != nil {
			logger.Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}

		store, err := internal_storage.InitStore(cfg.DSN())
		if err != nil {
			logger.Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		if cfg.Agent.Command == "" {
			logger.Errorf("No agent command configured (agent.command)")
			os.Exit(1)
		}
		agent := engine.NewCommandAgent(cfg.Agent.Command, cfg.Agent.Args, logger)

		emitter := engine.MultiEmitter{
			&engine.LogEmitter{Logger: logger},
			metrics.NewEmitter(prometheus.DefaultRegisterer),
		}
		registry := engine.NewRegistry(store, logger)
		sink := engine.NewStoreSink(store, emitter)
		scheduler := engine.NewScheduler(context.Background(), store, registry, agent, sink, emitter, logger, engine.SchedulerConfig{
			MaxConcurrency:     cfg.Engine.MaxConcurrency,
			CheckpointInterval: cfg.Engine.CheckpointInterval,
		})

		server := internal_http.NewServer(store, registry, scheduler)
		logger.Infof("Starting phaseflow server on port %d", cfg.HTTP.Port)
		if err := server.Start(cfg.HTTP.Port); err != nil {
			logger.Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string for admin commands")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
