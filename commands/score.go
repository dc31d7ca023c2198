package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/dispatch"
	"github.com/evermem/membench/score"
	"github.com/evermem/membench/storage"
)

func newScoreCommand(g *globalOptions) *cobra.Command {
	var (
		runID string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Grade recorded responses per tier",
		Long: `Score grades the run's recorded responses: factual recall is matched
deterministically against expected facts, applied memory and
personalization are graded by the judge model. Each response gets
exactly one score record; already-scored (question, model) pairs are
skipped, so re-running only retries scoring errors.

With --watch, the response log is watched and new responses are scored
incrementally while dispatch runs elsewhere.`,
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
			return scoreStage(cmd.Context(), rt, ds, id, watch)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id to score (default: latest run)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the response log and score new responses incrementally")
	return cmd
}

// scoreStage grades the run's response log. In watch mode it keeps
// rescanning the log until the context is cancelled.
func scoreStage(ctx context.Context, rt *runtime, ds *dataset.Dataset, runID string, watch bool) error {
	cfg := rt.cfg
	dir := rt.runDir(runID)

	manifest, err := readManifest(dir)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	runStore, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	startMetrics(ctx, rt)

	cache, err := score.OpenVerdictCache(filepath.Join(dir, verdictsFile))
	if err != nil {
		return err
	}
	defer cache.Close()

	callLog, err := storage.NewCallLog(filepath.Join(dir, callsFile))
	if err != nil {
		return err
	}
	defer callLog.Close()

	judgeOpts := []score.JudgeOption{score.WithJudgeCache(cache)}
	if cfg.JudgeModel != "" {
		judgeOpts = append(judgeOpts, score.WithJudgeEndpoint(cfg.JudgeModel))
	}
	registry := score.DefaultRegistry(rt.newClient(callLog), ds.Conversations, judgeOpts...)

	scoreLog, err := storage.OpenLog[score.ScoreRecord](filepath.Join(dir, scoresFile))
	if err != nil {
		return err
	}
	defer scoreLog.Close()

	responsesPath := filepath.Join(dir, responsesFile)

	// One pass reads the full response log, skips pairs settled in the
	// score log, and grades the rest. Watch mode re-runs it per change.
	pass := func(ctx context.Context) error {
		responses, err := storage.ReadLog[dispatch.ResponseRecord](responsesPath)
		if err != nil {
			return err
		}
		prior, err := storage.ReadLog[score.ScoreRecord](scoreLog.Path())
		if err != nil {
			return err
		}

		engine, err := score.New(registry, ds.Questions, scoreLog, score.Config{
			RunID:       runID,
			Concurrency: cfg.Concurrency,
		}, score.WithLogger(rt.logger), score.WithScored(score.ScoredPairs(prior)))
		if err != nil {
			return err
		}

		result, err := engine.Run(ctx, responses)
		if err != nil {
			return err
		}

		manifest.Scored += result.Scored
		manifest.Excluded += result.Excluded
		manifest.UpdatedAt = time.Now()
		if err := writeManifest(dir, manifest); err != nil {
			return err
		}
		shareManifest(ctx, runStore, manifest, rt.logger)

		rt.logger.Info("scoring pass complete",
			"run_id", runID,
			"scored", result.Scored,
			"excluded", result.Excluded,
			"errors", result.Errors,
			"skipped", result.Skipped)
		fmt.Printf("run %s: scored %d, excluded %d, errors %d, skipped %d\n",
			runID, result.Scored, result.Excluded, result.Errors, result.Skipped)
		return nil
	}

	if watch {
		watcher, err := score.NewWatcher(responsesPath, 0, pass, rt.logger)
		if err != nil {
			return err
		}
		return watcher.Run(ctx)
	}
	return pass(ctx)
}
