package score

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/evermem/membench/metrics"
	"github.com/evermem/membench/storage"
)

// CacheKey derives the lookaside key for one judge grading call. The key
// covers everything that can change the verdict: the evaluator and its
// policy version, the question, the exact response text, and which judge
// grades it.
func CacheKey(evaluator, questionID, response, judgeRef string) string {
	h := sha256.New()
	for _, part := range []string{evaluator, questionID, response, judgeRef} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// cacheEntry is one persisted verdict. Entries append to a JSONL log; on
// reload the newest entry per key wins.
type cacheEntry struct {
	Key      string    `json:"key"`
	Judgment Judgment  `json:"judgment"`
	CachedAt time.Time `json:"cached_at"`
}

// VerdictCache stores judge verdicts so re-scoring unchanged responses
// replays the stored judgment instead of calling the judge again. This is
// what makes judge-backed evaluation idempotent across runs.
type VerdictCache struct {
	mu      sync.Mutex
	entries map[string]Judgment
	log     *storage.Log[cacheEntry]
}

// NewVerdictCache returns a memory-only cache.
func NewVerdictCache() *VerdictCache {
	return &VerdictCache{entries: make(map[string]Judgment)}
}

// OpenVerdictCache loads persisted verdicts from path and appends new ones
// to it. A missing file starts an empty cache.
func OpenVerdictCache(path string) (*VerdictCache, error) {
	persisted, err := storage.ReadLog[cacheEntry](path)
	if err != nil {
		return nil, fmt.Errorf("load verdict cache: %w", err)
	}
	entries := make(map[string]Judgment, len(persisted))
	for i := range persisted {
		entries[persisted[i].Key] = persisted[i].Judgment
	}
	log, err := storage.OpenLog[cacheEntry](path)
	if err != nil {
		return nil, fmt.Errorf("open verdict cache: %w", err)
	}
	return &VerdictCache{entries: entries, log: log}, nil
}

// Get returns the stored judgment for a key.
func (c *VerdictCache) Get(key string) (Judgment, bool) {
	c.mu.Lock()
	judgment, ok := c.entries[key]
	c.mu.Unlock()
	metrics.IncJudgeCache(ok)
	return judgment, ok
}

// Put stores a judgment, persisting it when the cache is file-backed.
func (c *VerdictCache) Put(key string, judgment Judgment) error {
	judgment.Cached = false
	c.mu.Lock()
	c.entries[key] = judgment
	c.mu.Unlock()
	if c.log == nil {
		return nil
	}
	return c.log.Append(cacheEntry{Key: key, Judgment: judgment, CachedAt: time.Now().UTC()})
}

// Len returns the number of cached verdicts.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes the backing log, if any.
func (c *VerdictCache) Close() error {
	if c.log == nil {
		return nil
	}
	return c.log.Close()
}
