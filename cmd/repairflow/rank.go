package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/repairflow/internal/adapters/roster"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
)

func newRankCommand(opts *rootOptions) *cobra.Command {
	var jobPath, rosterPath, at string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank a technician roster for one job spec without a running service",
		Example: `  repairflow rank --job job.yaml --roster roster.yaml
  repairflow rank --job job.yaml --roster roster.yaml --at 2026-03-02T09:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, opts, os.Stderr)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}

			spec, err := roster.LoadJobSpec(jobPath)
			if err != nil {
				return err
			}
			techs, err := roster.Load(rosterPath)
			if err != nil {
				return err
			}
			policy, err := cfg.SLA.Policy()
			if err != nil {
				return err
			}
			scorer, err := scoring.NewScorer(scoringOptions(cfg.Scoring)...)
			if err != nil {
				return err
			}
			engine := assignment.NewEngine(scorer,
				assignment.WithMaxAlternatives(cfg.Scoring.MaxAlternatives),
				assignment.WithConfidenceSpread(cfg.Scoring.ConfidenceSpread),
			)

			job := model.NewJob(spec, now, cfg.Service.DefaultEstimatedHours)
			if job.ID == "" {
				job.ID = "offline"
			}
			job.SLAResponseDeadline, job.SLACompletionDeadline = policy.Deadlines(now, job.Priority, job.CustomerTier)

			res, err := engine.Rank(ctx, job, techs, now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&jobPath, "job", "j", "", "job spec YAML file")
	cmd.Flags().StringVarP(&rosterPath, "roster", "r", "", "technician roster YAML file")
	cmd.Flags().StringVar(&at, "at", "", "ranking time, RFC3339 (default now)")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("roster")
	return cmd
}
