package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDigest(t *testing.T) {
	t.Run("known value for empty input", func(t *testing.T) {
		want := "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
		if got := Digest(nil); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Digest([]byte("the standup moved to Tuesday"))
		b := Digest([]byte("the standup moved to Tuesday"))
		if a != b {
			t.Errorf("same input produced %s and %s", a, b)
		}
	})

	t.Run("content sensitive", func(t *testing.T) {
		a := Digest([]byte("version one"))
		b := Digest([]byte("version two"))
		if a == b {
			t.Error("different inputs produced the same digest")
		}
	})

	t.Run("prefixed", func(t *testing.T) {
		if !strings.HasPrefix(Digest([]byte("x")), "sha256:") {
			t.Error("digest missing sha256 prefix")
		}
	})
}

func TestFileDigest(t *testing.T) {
	t.Run("matches byte digest", func(t *testing.T) {
		content := []byte(`{"id":"q-001"}` + "\n")
		path := filepath.Join(t.TempDir(), "questions.jsonl")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}

		got, err := FileDigest(path)
		if err != nil {
			t.Fatalf("file digest: %v", err)
		}
		if want := Digest(content); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := FileDigest(filepath.Join(t.TempDir(), "absent")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
