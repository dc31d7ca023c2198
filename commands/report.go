package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/report"
	"github.com/evermem/membench/score"
	"github.com/evermem/membench/storage"
)

func newReportCommand(g *globalOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate scores into the run report",
		Long: `Report rolls the run's score records up by tier, community, and
conversation-length bucket, writes report.json and report.md into the
run directory, and prints the rendered report. Excluded responses are
counted next to the aggregates, never averaged in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(g)
			if err != nil {
				return err
			}
			ds, err := rt.loadDataset(false)
			if err != nil {
				return err
			}
			id, err := rt.resolveRunID(runID)
			if err != nil {
				return err
			}
			return reportStage(cmd.Context(), rt, ds, id, cmd)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id to report on (default: latest run)")
	return cmd
}

// reportStage builds and persists the aggregate report for a run.
func reportStage(ctx context.Context, rt *runtime, ds *dataset.Dataset, runID string, cmd *cobra.Command) error {
	dir := rt.runDir(runID)

	manifest, err := readManifest(dir)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	records, err := storage.ReadLog[score.ScoreRecord](filepath.Join(dir, scoresFile))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("run %s has no score records; run `membench score` first", runID)
	}

	rep, err := report.Build(records, ds.Conversations, report.Params{
		RunID:   runID,
		Model:   manifest.Model,
		Buckets: rt.cfg.LengthBuckets,
	})
	if err != nil {
		return err
	}

	jsonPath, mdPath, err := report.WriteFiles(rep, dir)
	if err != nil {
		return err
	}

	runStore, closeStore, err := openRunStore(ctx, rt.cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if runStore != nil {
		if err := runStore.PutReport(ctx, runID, rep); err != nil {
			rt.logger.Warn("failed to share report", "run_id", runID, "error", err)
		}
	}

	rt.logger.Info("report written", "run_id", runID, "json", jsonPath, "markdown", mdPath)
	fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(rep))
	return nil
}
