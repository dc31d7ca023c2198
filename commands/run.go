package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/evermem/membench/storage"
)

func newRunCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: dispatch, score, report",
		Long: `Run starts a fresh benchmark run and chains every stage: questions
are dispatched to the subject model, the recorded responses are
graded, and the scores are aggregated into the run report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(g)
			if err != nil {
				return err
			}
			ds, err := rt.loadDataset(false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			runID, err := dispatchStage(ctx, rt, ds, "")
			if err != nil {
				return err
			}
			if err := scoreStage(ctx, rt, ds, runID, false); err != nil {
				return err
			}
			if err := reportStage(ctx, rt, ds, runID, cmd); err != nil {
				return err
			}

			// All stages done; finalize the manifest.
			dir := rt.runDir(runID)
			manifest, err := readManifest(dir)
			if err != nil {
				return err
			}
			manifest.Complete(time.Now())
			if err := writeManifest(dir, manifest); err != nil {
				return err
			}
			runStore, closeStore, err := openRunStore(ctx, rt.cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			shareManifest(ctx, runStore, manifest, rt.logger)

			rt.logger.Info("run complete",
				"run_id", runID,
				"status", storage.RunStatusComplete,
				"answered", manifest.Answered,
				"failed", manifest.Failed,
				"scored", manifest.Scored,
				"excluded", manifest.Excluded)
			return nil
		},
	}
}
