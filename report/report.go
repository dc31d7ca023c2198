// Package report aggregates score records into the benchmark report: per
// tier and per tier x community x conversation-length cell statistics,
// excluded counts, and the bottleneck tier. Aggregation is deterministic:
// identical input yields byte-identical output.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/evermem/membench/dataset"
	"github.com/evermem/membench/score"
)

// Bucket classifies a conversation by turn count. Long conversations are
// where memory degrades, so scores are broken out by length.
type Bucket string

const (
	BucketShort  Bucket = "short"
	BucketMedium Bucket = "medium"
	BucketLong   Bucket = "long"
)

var bucketOrder = map[Bucket]int{BucketShort: 0, BucketMedium: 1, BucketLong: 2}

// Buckets holds the configurable length boundaries: conversations with
// fewer than MediumAt turns are short, fewer than LongAt are medium, the
// rest are long.
type Buckets struct {
	MediumAt int `json:"medium_at" yaml:"medium_at"`
	LongAt   int `json:"long_at" yaml:"long_at"`
}

// DefaultBuckets returns the published boundaries: short < 200 turns,
// medium 200-999, long >= 1000.
func DefaultBuckets() Buckets {
	return Buckets{MediumAt: 200, LongAt: 1000}
}

// Validate checks the boundaries are ordered.
func (b Buckets) Validate() error {
	if b.MediumAt <= 0 {
		return fmt.Errorf("medium_at must be positive, got %d", b.MediumAt)
	}
	if b.LongAt <= b.MediumAt {
		return fmt.Errorf("long_at (%d) must exceed medium_at (%d)", b.LongAt, b.MediumAt)
	}
	return nil
}

// Of returns the bucket for a conversation turn count.
func (b Buckets) Of(turns int) Bucket {
	switch {
	case turns < b.MediumAt:
		return BucketShort
	case turns < b.LongAt:
		return BucketMedium
	default:
		return BucketLong
	}
}

// Stats summarizes the scored values of one group.
type Stats struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// newStats computes summary statistics. Values are sorted first so the
// floating-point accumulation order never depends on input order.
func newStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	slices.Sort(values)
	s := Stats{
		Count: len(values),
		Mean:  stat.Mean(values, nil),
		Min:   values[0],
		Max:   values[len(values)-1],
	}
	if len(values) > 1 {
		s.Variance = stat.Variance(values, nil)
	}
	return s
}

// Cell is one tier x community x length-bucket aggregate.
type Cell struct {
	Tier        dataset.Tier `json:"tier"`
	CommunityID string       `json:"community_id"`
	Bucket      Bucket       `json:"bucket"`
	Stats
	Excluded int `json:"excluded"`
}

// TierSummary rolls one tier up across all communities and buckets.
// RelativeMean is the tier mean over the overall mean; the tier with the
// lowest relative mean is the diagnostic bottleneck.
type TierSummary struct {
	Tier dataset.Tier `json:"tier"`
	Stats
	Attempted    int            `json:"attempted"`
	Excluded     int            `json:"excluded"`
	Verdicts     map[string]int `json:"verdicts,omitempty"`
	RelativeMean float64        `json:"relative_mean"`
	Bottleneck   bool           `json:"bottleneck,omitempty"`
}

// Totals holds the run-wide counts. Attempted always equals Scored plus
// Excluded; nothing is silently dropped.
type Totals struct {
	Attempted int `json:"attempted"`
	Scored    int `json:"scored"`
	Excluded  int `json:"excluded"`
}

// Report is the aggregate output for one run. It carries no timestamps or
// ids of its own beyond the run's, so identical score records always
// produce identical bytes.
type Report struct {
	RunID string `json:"run_id,omitempty"`
	Model string `json:"model,omitempty"`

	Buckets Buckets `json:"buckets"`
	Totals  Totals  `json:"totals"`

	Tiers []TierSummary `json:"tiers"`
	Cells []Cell        `json:"cells"`

	// ExcludedByKind breaks the excluded total down by error kind.
	ExcludedByKind map[string]int `json:"excluded_by_kind,omitempty"`

	// BottleneckTier is the tier with the lowest mean relative to the
	// overall mean, empty when nothing was scored.
	BottleneckTier dataset.Tier `json:"bottleneck_tier,omitempty"`
}

// Params configures aggregation.
type Params struct {
	RunID   string
	Model   string
	Buckets Buckets
}

type cellKey struct {
	tier      dataset.Tier
	community string
	bucket    Bucket
}

type cellAcc struct {
	values   []float64
	excluded int
}

// Build aggregates score records. Records are deduplicated to the newest
// per (question, model) pair first. Scored records feed the statistics;
// excluded and scoring-error records only feed the excluded counts, so
// failures can never skew an average.
func Build(records []score.ScoreRecord, store *dataset.ConversationStore, params Params) (*Report, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if params.Buckets == (Buckets{}) {
		params.Buckets = DefaultBuckets()
	}
	if err := params.Buckets.Validate(); err != nil {
		return nil, fmt.Errorf("length buckets: %w", err)
	}

	latest := score.LatestByPair(records)

	cells := make(map[cellKey]*cellAcc)
	tierValues := make(map[dataset.Tier][]float64)
	tierAttempted := make(map[dataset.Tier]int)
	tierExcluded := make(map[dataset.Tier]int)
	tierVerdicts := make(map[dataset.Tier]map[string]int)
	excludedByKind := make(map[string]int)

	r := &Report{RunID: params.RunID, Model: params.Model, Buckets: params.Buckets}

	for i := range latest {
		rec := &latest[i]
		key := cellKey{
			tier:      rec.Tier,
			community: rec.CommunityID,
			bucket:    params.Buckets.Of(store.TurnCount(rec.CommunityID)),
		}
		acc := cells[key]
		if acc == nil {
			acc = &cellAcc{}
			cells[key] = acc
		}

		tierAttempted[rec.Tier]++
		r.Totals.Attempted++

		if rec.Status != score.StatusOK {
			acc.excluded++
			tierExcluded[rec.Tier]++
			r.Totals.Excluded++
			kind := string(rec.ErrorKind)
			if kind == "" {
				kind = string(score.KindScoringError)
			}
			excludedByKind[kind]++
			continue
		}

		acc.values = append(acc.values, rec.Score)
		tierValues[rec.Tier] = append(tierValues[rec.Tier], rec.Score)
		r.Totals.Scored++
		if rec.Verdict != "" {
			if tierVerdicts[rec.Tier] == nil {
				tierVerdicts[rec.Tier] = make(map[string]int)
			}
			tierVerdicts[rec.Tier][string(rec.Verdict)]++
		}
	}

	var overall []float64
	for _, values := range tierValues {
		overall = append(overall, values...)
	}
	overallStats := newStats(overall)

	for _, tier := range dataset.Tiers() {
		if tierAttempted[tier] == 0 {
			continue
		}
		summary := TierSummary{
			Tier:      tier,
			Stats:     newStats(tierValues[tier]),
			Attempted: tierAttempted[tier],
			Excluded:  tierExcluded[tier],
			Verdicts:  tierVerdicts[tier],
		}
		if overallStats.Mean > 0 && summary.Count > 0 {
			summary.RelativeMean = summary.Mean / overallStats.Mean
		}
		r.Tiers = append(r.Tiers, summary)
	}

	// Bottleneck: lowest mean among tiers that scored anything, ties
	// resolved by tier order.
	bottleneck := -1
	for i := range r.Tiers {
		if r.Tiers[i].Count == 0 {
			continue
		}
		if bottleneck == -1 || r.Tiers[i].Mean < r.Tiers[bottleneck].Mean {
			bottleneck = i
		}
	}
	if bottleneck >= 0 {
		r.BottleneckTier = r.Tiers[bottleneck].Tier
		r.Tiers[bottleneck].Bottleneck = true
	}

	keys := make([]cellKey, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareCellKeys)
	for _, key := range keys {
		acc := cells[key]
		r.Cells = append(r.Cells, Cell{
			Tier:        key.tier,
			CommunityID: key.community,
			Bucket:      key.bucket,
			Stats:       newStats(acc.values),
			Excluded:    acc.excluded,
		})
	}

	if len(excludedByKind) > 0 {
		r.ExcludedByKind = excludedByKind
	}
	return r, nil
}

// tierRank orders tiers for cell sorting; unknown tiers sort last.
func tierRank(tier dataset.Tier) int {
	for i, t := range dataset.Tiers() {
		if t == tier {
			return i
		}
	}
	return len(dataset.Tiers())
}

func compareCellKeys(a, b cellKey) int {
	if d := tierRank(a.tier) - tierRank(b.tier); d != 0 {
		return d
	}
	if d := strings.Compare(a.community, b.community); d != 0 {
		return d
	}
	return bucketOrder[a.bucket] - bucketOrder[b.bucket]
}

// EncodeJSON renders the report as indented JSON with a trailing newline.
// Map keys marshal sorted, so encoding is byte-deterministic.
func EncodeJSON(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFiles writes report.json and report.md under dir, creating it if
// needed, and returns both paths.
func WriteFiles(r *Report, dir string) (jsonPath, markdownPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := EncodeJSON(r)
	if err != nil {
		return "", "", err
	}
	jsonPath = filepath.Join(dir, "report.json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", jsonPath, err)
	}
	markdownPath = filepath.Join(dir, "report.md")
	if err := os.WriteFile(markdownPath, []byte(RenderMarkdown(r)), 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", markdownPath, err)
	}
	return jsonPath, markdownPath, nil
}
