package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/dispatch"
	"github.com/evermem/membench/metrics"
	"github.com/evermem/membench/storage"
)

func newDispatchCommand(g *globalOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send benchmark questions to the subject model",
		Long: `Dispatch sends every pending question, rendered with its permitted
conversation context, to the configured subject model and appends one
response record per question to the run's response log. Resuming an
existing run skips questions that already have a successful response.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(g)
			if err != nil {
				return err
			}
			ds, err := rt.loadDataset(false)
			if err != nil {
				return err
			}
			_, err = dispatchStage(cmd.Context(), rt, ds, runID)
			return err
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Resume an existing run id (default: start a new run)")
	return cmd
}

// dispatchStage runs the dispatch pipeline stage for one run, creating
// the run directory and manifest when runID is empty. Returns the run
// id so `run` can chain the remaining stages onto it.
func dispatchStage(ctx context.Context, rt *runtime, ds *dataset.Dataset, runID string) (string, error) {
	cfg := rt.cfg

	resume := runID != ""
	if !resume {
		runID = storage.NewRunID(time.Now())
	}
	dir := rt.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	var manifest *storage.RunManifest
	if resume {
		m, err := readManifest(dir)
		if err != nil {
			return "", fmt.Errorf("run %s: %w", runID, err)
		}
		manifest = m
		manifest.Status = storage.RunStatusRunning
	} else {
		policy, _ := dispatch.ParsePolicy(cfg.ContextPolicy)
		manifest = &storage.RunManifest{
			ID:                  runID,
			Model:               cfg.Model,
			Status:              storage.RunStatusRunning,
			ConversationsPath:   cfg.Dataset.Conversations,
			QuestionsPath:       cfg.Dataset.Questions,
			ConversationsDigest: combinedDigest(ds.Digests, cfg.Dataset.Conversations),
			QuestionsDigest:     combinedDigest(ds.Digests, cfg.Dataset.Questions),
			ConfigDigest:        configDigest(cfg),
			ContextPolicy:       string(policy),
			MaxContextTokens:    cfg.MaxContextTokens,
			Questions:           ds.Questions.Len(),
			StartedAt:           time.Now(),
			UpdatedAt:           time.Now(),
		}
	}
	if err := writeManifest(dir, manifest); err != nil {
		return "", err
	}

	runStore, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeStore()
	shareManifest(ctx, runStore, manifest, rt.logger)

	startMetrics(ctx, rt)

	responseLog, err := storage.OpenLog[dispatch.ResponseRecord](filepath.Join(dir, responsesFile))
	if err != nil {
		return "", err
	}
	defer responseLog.Close()

	callLog, err := storage.NewCallLog(filepath.Join(dir, callsFile))
	if err != nil {
		return "", err
	}
	defer callLog.Close()

	var answered map[string]struct{}
	if resume {
		existing, err := storage.ReadLog[dispatch.ResponseRecord](responseLog.Path())
		if err != nil {
			return "", err
		}
		answered = dispatch.AnsweredIDs(existing)
	}

	policy, _ := dispatch.ParsePolicy(cfg.ContextPolicy)
	dispatcher, err := dispatch.New(rt.newClient(callLog), ds.Conversations, responseLog, dispatch.Config{
		RunID:            runID,
		Model:            cfg.Model,
		Policy:           policy,
		MaxContextTokens: cfg.MaxContextTokens,
		Concurrency:      cfg.Concurrency,
		Timeout:          cfg.Timeout(),
	}, dispatch.WithLogger(rt.logger), dispatch.WithAnswered(answered))
	if err != nil {
		return "", err
	}

	rt.logger.Info("dispatching questions",
		"run_id", runID,
		"model", cfg.Model,
		"questions", ds.Questions.Len(),
		"resume", resume)

	result, err := dispatcher.Run(ctx, ds.Questions)
	if err != nil {
		manifest.Fail(time.Now(), err.Error())
		_ = writeManifest(dir, manifest)
		shareManifest(ctx, runStore, manifest, rt.logger)
		return "", err
	}

	manifest.Answered += result.Answered
	manifest.Failed += result.Failed
	manifest.UpdatedAt = time.Now()
	if err := writeManifest(dir, manifest); err != nil {
		return "", err
	}
	shareManifest(ctx, runStore, manifest, rt.logger)

	rt.logger.Info("dispatch complete",
		"run_id", runID,
		"dispatched", result.Dispatched,
		"answered", result.Answered,
		"failed", result.Failed,
		"skipped", result.Skipped)
	fmt.Printf("run %s: dispatched %d, answered %d, failed %d, skipped %d\n",
		runID, result.Dispatched, result.Answered, result.Failed, result.Skipped)

	return runID, nil
}

// startMetrics serves /metrics for the lifetime of the command when
// metrics are enabled.
func startMetrics(ctx context.Context, rt *runtime) {
	if !rt.cfg.Metrics.Enabled {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, rt.cfg.Metrics.Listen); err != nil {
			rt.logger.Warn("metrics listener stopped", "error", err)
		}
	}()
}
