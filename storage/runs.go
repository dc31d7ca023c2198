package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for run state shared through NATS KV.
const (
	BucketRuns    = "MEMBENCH_RUNS"
	BucketReports = "MEMBENCH_REPORTS"
)

// RunStore keeps run manifests and published reports in NATS KV so
// multiple harness processes can see run state. Response and score
// records do not live here; those go to append-only JSONL logs.
type RunStore struct {
	runs    jetstream.KeyValue
	reports jetstream.KeyValue
}

// NewRunStore creates a RunStore with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewRunStore(ctx context.Context, js jetstream.JetStream) (*RunStore, error) {
	runs, err := getOrCreateBucket(ctx, js, BucketRuns)
	if err != nil {
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}

	reports, err := getOrCreateBucket(ctx, js, BucketReports)
	if err != nil {
		return nil, fmt.Errorf("create reports bucket: %w", err)
	}

	return &RunStore{
		runs:    runs,
		reports: reports,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Membench %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// CreateRun stores a new run manifest. The manifest ID must not
// already exist.
func (s *RunStore) CreateRun(ctx context.Context, m *RunManifest) error {
	if m.ID == "" {
		return fmt.Errorf("run manifest has no ID")
	}
	m.UpdatedAt = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if _, err := s.runs.Create(ctx, m.ID, data); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}

	return nil
}

// UpdateRun replaces an existing run manifest.
func (s *RunStore) UpdateRun(ctx context.Context, m *RunManifest) error {
	if m.ID == "" {
		return fmt.Errorf("run manifest has no ID")
	}
	m.UpdatedAt = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if _, err := s.runs.Put(ctx, m.ID, data); err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}

	return nil
}

// GetRun retrieves a run manifest by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*RunManifest, error) {
	entry, err := s.runs.Get(ctx, runID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	var m RunManifest
	if err := json.Unmarshal(entry.Value(), &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &m, nil
}

// ListRuns returns all run manifests, most recent first.
func (s *RunStore) ListRuns(ctx context.Context) ([]*RunManifest, error) {
	keys, err := s.runs.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list run keys: %w", err)
	}

	runs := make([]*RunManifest, 0, len(keys))
	for _, key := range keys {
		entry, err := s.runs.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var m RunManifest
		if err := json.Unmarshal(entry.Value(), &m); err != nil {
			continue
		}
		runs = append(runs, &m)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// LatestRun returns the most recently started run manifest.
func (s *RunStore) LatestRun(ctx context.Context) (*RunManifest, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// PutReport stores the aggregated report document for a run. The
// document is marshaled as-is so this package stays independent of
// report types.
func (s *RunStore) PutReport(ctx context.Context, runID string, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if _, err := s.reports.Put(ctx, runID, data); err != nil {
		return fmt.Errorf("store report: %w", err)
	}

	return nil
}

// GetReport retrieves the report document for a run into out.
func (s *RunStore) GetReport(ctx context.Context, runID string, out any) error {
	entry, err := s.reports.Get(ctx, runID)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get report: %w", err)
	}

	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return fmt.Errorf("unmarshal report: %w", err)
	}

	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
