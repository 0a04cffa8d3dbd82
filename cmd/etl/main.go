// Command etl runs the project-management warehouse pipeline: probe the
// warehouse readiness state, then execute whichever stages it calls for.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sgpetl/internal/config"
	"sgpetl/internal/metrics"
	"sgpetl/internal/metrics/datadog"
	"sgpetl/internal/pipeline"

	// Register all warehouse backends; config selects which one runs.
	_ "sgpetl/internal/warehouse/mssql"
	_ "sgpetl/internal/warehouse/postgres"
	_ "sgpetl/internal/warehouse/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "etl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		status  bool
		rebuild bool
	)

	cmd := &cobra.Command{
		Use:           "etl",
		Short:         "Load the project-management star schema warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			runner := pipeline.NewDefaultRunner()
			runner.Logf = log.New(os.Stderr, "", log.LstdFlags)

			if status {
				st, err := runner.Status(ctx, cfg)
				if err != nil {
					return err
				}
				fmt.Println(st.Summary())
				return nil
			}

			backend, err := newMetricsBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()
			runner.Metrics = backend

			return runner.Run(ctx, cfg, rebuild)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "etl.json", "pipeline config JSON path")
	cmd.Flags().BoolVar(&status, "status", false, "print the readiness state and exit")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "truncate all targets and rebuild from scratch")
	cmd.Flags().BoolVar(&rebuild, "force", false, "alias for --rebuild")

	return cmd
}

func newMetricsBackend(ctx context.Context, cfg *config.Config) (metrics.Backend, error) {
	if !cfg.Metrics.Enabled || os.Getenv("DD_API_KEY") == "" {
		return metrics.Nop{}, nil
	}

	var flushEvery time.Duration
	if cfg.Metrics.FlushEvery != "" {
		d, err := time.ParseDuration(cfg.Metrics.FlushEvery)
		if err != nil {
			return nil, fmt.Errorf("metrics.flush_every: %w", err)
		}
		flushEvery = d
	}

	return datadog.NewBackend(ctx, datadog.Options{
		JobName:    cfg.Metrics.JobName,
		Tags:       cfg.Metrics.Tags,
		FlushEvery: flushEvery,
	})
}
