package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewRunID(t *testing.T) {
	t.Run("sorts chronologically", func(t *testing.T) {
		early := NewRunID(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		late := NewRunID(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
		if !(early < late) {
			t.Errorf("expected %s < %s", early, late)
		}
	})

	t.Run("embeds timestamp", func(t *testing.T) {
		id := NewRunID(time.Date(2026, 3, 1, 10, 30, 45, 0, time.UTC))
		if !strings.HasPrefix(id, "20260301-103045-") {
			t.Errorf("unexpected prefix: %s", id)
		}
	})

	t.Run("unique per call", func(t *testing.T) {
		at := time.Now()
		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			id := NewRunID(at)
			if seen[id] {
				t.Fatalf("duplicate run ID: %s", id)
			}
			seen[id] = true
		}
	})
}

func TestRunManifestLifecycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := RunManifest{
		ID:        NewRunID(start),
		Model:     "gpt-4o",
		Status:    RunStatusRunning,
		StartedAt: start,
	}

	t.Run("complete sets terminal state", func(t *testing.T) {
		done := start.Add(time.Hour)
		m.Complete(done)
		if m.Status != RunStatusComplete {
			t.Errorf("expected complete, got %s", m.Status)
		}
		if m.CompletedAt == nil || !m.CompletedAt.Equal(done) {
			t.Errorf("unexpected completed at: %v", m.CompletedAt)
		}
	})

	t.Run("fail records reason", func(t *testing.T) {
		failed := m
		failed.Fail(start.Add(time.Minute), "dataset missing")
		if failed.Status != RunStatusFailed {
			t.Errorf("expected failed, got %s", failed.Status)
		}
		if failed.Error != "dataset missing" {
			t.Errorf("unexpected error: %s", failed.Error)
		}
	})
}

func TestRunManifestJSON(t *testing.T) {
	m := RunManifest{
		ID:        "20260301-100000-abcd1234",
		Model:     "gpt-4o",
		Status:    RunStatusRunning,
		Questions: 120,
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Unfinished runs omit completed_at entirely.
	if strings.Contains(string(data), "completed_at") {
		t.Errorf("expected completed_at omitted, got %s", data)
	}

	var got RunManifest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != m.ID || got.Model != m.Model || got.Questions != m.Questions {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}
