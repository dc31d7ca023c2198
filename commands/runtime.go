package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/evermem/membench/config"
	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/llm"
	"github.com/evermem/membench/model"
	"github.com/evermem/membench/storage"
)

// Run directory artifact names. Everything a run produces lives under
// <output_dir>/<run_id>/.
const (
	manifestFile  = "run.json"
	responsesFile = "responses.jsonl"
	scoresFile    = "scores.jsonl"
	callsFile     = "calls.jsonl"
	verdictsFile  = "verdicts.jsonl"
)

// runtime bundles the state every subcommand needs: validated config,
// a configured logger, and the model registry.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *model.Registry
}

// newRuntime loads configuration, applies flag overrides, and wires
// logging and the model registry. Called at the top of each RunE.
func newRuntime(opts *globalOptions) (*runtime, error) {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	loader := config.NewLoader(bootstrap)

	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = loader.LoadFile(opts.configPath)
	} else {
		// Scaffold the user config on first use so operators have a
		// file to edit. Best effort, layered load proceeds regardless.
		if err := loader.EnsureUserConfig(); err != nil {
			bootstrap.Warn("Failed to create user config", slog.String("error", err.Error()))
		}
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	registry, err := loadRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}
	model.InitGlobal(registry)

	return &runtime{cfg: cfg, logger: logger, registry: registry}, nil
}

func loadRegistry(path string) (*model.Registry, error) {
	if path == "" {
		return model.NewDefaultRegistry(), nil
	}
	registry, err := model.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}
	return registry, nil
}

// loadDataset reads the configured dataset globs. Rich-text turn
// normalization is always on; schema validation is opt-in because the
// validate command runs it separately with per-line reporting.
func (rt *runtime) loadDataset(validateSchema bool) (*dataset.Dataset, error) {
	return dataset.Load(rt.datasetSource(), dataset.LoadOptions{
		ValidateSchema:    validateSchema,
		NormalizeRichText: true,
	})
}

func (rt *runtime) datasetSource() dataset.Source {
	return dataset.Source{
		Personas:      []string{rt.cfg.Dataset.Personas},
		Conversations: []string{rt.cfg.Dataset.Conversations},
		Questions:     []string{rt.cfg.Dataset.Questions},
	}
}

// newClient builds an LLM client for one pipeline stage, recording
// every call to the run's call log.
func (rt *runtime) newClient(recorder llm.Recorder) *llm.Client {
	opts := []llm.ClientOption{
		llm.WithRetryConfig(llm.RetryConfigForMaxRetries(rt.cfg.MaxRetries)),
		llm.WithLogger(rt.logger),
	}
	if recorder != nil {
		opts = append(opts, llm.WithRecorder(recorder))
	}
	return llm.NewClient(rt.registry, opts...)
}

// runDir returns the artifact directory for a run.
func (rt *runtime) runDir(runID string) string {
	return filepath.Join(rt.cfg.OutputDir, runID)
}

// resolveRunID turns the --run flag into a concrete run id, defaulting
// to the newest run under output_dir.
func (rt *runtime) resolveRunID(flagValue string) (string, error) {
	if flagValue != "" {
		if _, err := readManifest(rt.runDir(flagValue)); err != nil {
			return "", fmt.Errorf("run %s: %w", flagValue, err)
		}
		return flagValue, nil
	}
	return latestRunID(rt.cfg.OutputDir)
}

// latestRunID finds the newest run under dir. Run ids are
// timestamp-prefixed, so lexical order is chronological order.
func latestRunID(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), manifestFile)); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no runs found under %s", dir)
	}
	sort.Strings(ids)
	return ids[len(ids)-1], nil
}

// writeManifest persists the manifest into the run directory.
func writeManifest(dir string, m *storage.RunManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write run manifest: %w", err)
	}
	return nil
}

// readManifest loads the manifest from a run directory.
func readManifest(dir string) (*storage.RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read run manifest: %w", err)
	}
	var m storage.RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse run manifest: %w", err)
	}
	return &m, nil
}

// combinedDigest folds the per-file digests of the paths matching the
// given glob into one stable digest, so the manifest pins the exact
// dataset bytes a run consumed.
func combinedDigest(digests map[string]string, glob string) string {
	paths, err := dataset.ExpandGlobs([]string{glob})
	if err != nil {
		return ""
	}
	var lines string
	for _, path := range paths {
		if d, ok := digests[path]; ok {
			lines += path + ":" + d + "\n"
		}
	}
	if lines == "" {
		return ""
	}
	return storage.Digest([]byte(lines))
}

// configDigest pins the effective configuration in the run manifest.
func configDigest(cfg *config.Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	return storage.Digest(data)
}

// openRunStore connects the optional NATS-backed run store. Returns
// nil when the file backend is configured; the returned closer is
// always safe to call.
func openRunStore(ctx context.Context, cfg *config.Config) (*storage.RunStore, func(), error) {
	if cfg.Storage.Backend != config.StorageNATS {
		return nil, func() {}, nil
	}
	nc, err := nats.Connect(cfg.Storage.NATSURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connect to NATS at %s: %w", cfg.Storage.NATSURL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("create JetStream context: %w", err)
	}
	store, err := storage.NewRunStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, func() {}, err
	}
	return store, nc.Close, nil
}

// shareManifest mirrors the manifest into the NATS run store when one
// is configured. Sharing is best-effort; a KV failure never aborts a
// run that already has its results on disk.
func shareManifest(ctx context.Context, store *storage.RunStore, m *storage.RunManifest, logger *slog.Logger) {
	if store == nil {
		return
	}
	if err := store.UpdateRun(ctx, m); err != nil {
		logger.Warn("failed to share run manifest", "run_id", m.ID, "error", err)
	}
}
