package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/repairflow/internal/loadgen"
	"github.com/okian/repairflow/pkg/logger"
)

const defaultSimulationTimeout = 10 * time.Minute

func newSimulateCommand(opts *rootOptions) *cobra.Command {
	cfg := loadgen.NewConfig()
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a running service through a simulated shop day and verify workload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := opts.logFormat
			if format == "" {
				format = "text"
			}
			if err := logger.InitWithFormat(format, os.Stdout); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			_, err := loadgen.Run(ctx, cfg)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	f.IntVar(&cfg.Technicians, "technicians", cfg.Technicians, "roster size")
	f.IntVar(&cfg.Jobs, "jobs", cfg.Jobs, "number of jobs to open")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent job walkers")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	f.Float64Var(&cfg.ReworkRate, "rework-rate", cfg.ReworkRate, "chance a quality check fails")
	f.Float64Var(&cfg.ReassignRate, "reassign-rate", cfg.ReassignRate, "chance a job changes hands")
	f.Uint64Var(&cfg.Seed, "seed", 0, "plan seed (0 picks one)")
	f.StringVar(&cfg.OutputFile, "output", "", "write a JSON report to this file")
	f.BoolVar(&cfg.Verbose, "verbose", false, "log every failed step")
	f.DurationVar(&runTimeout, "run-timeout", defaultSimulationTimeout, "upper bound for the whole run")
	return cmd
}
