package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RenderMarkdown renders the report as a markdown document: run totals,
// the per-tier summary with the bottleneck called out, and the
// tier x community x length breakdown.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Memory Benchmark Report\n\n")
	if r.Model != "" {
		sb.WriteString("- **Model:** ")
		sb.WriteString(r.Model)
		sb.WriteString("\n")
	}
	if r.RunID != "" {
		sb.WriteString("- **Run:** ")
		sb.WriteString(r.RunID)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "- **Length buckets:** short < %d turns, medium < %d, long >= %d\n\n",
		r.Buckets.MediumAt, r.Buckets.LongAt, r.Buckets.LongAt)

	sb.WriteString("## Totals\n\n")
	fmt.Fprintf(&sb, "- **Attempted:** %d\n", r.Totals.Attempted)
	fmt.Fprintf(&sb, "- **Scored:** %d\n", r.Totals.Scored)
	fmt.Fprintf(&sb, "- **Excluded:** %d\n\n", r.Totals.Excluded)

	sb.WriteString("## Tier Summary\n\n")
	sb.WriteString("| Tier | Attempted | Scored | Mean | Variance | Min | Max | Excluded |\n")
	sb.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|\n")
	for i := range r.Tiers {
		t := &r.Tiers[i]
		fmt.Fprintf(&sb, "| %s | %d | %d | %s | %s | %s | %s | %d |\n",
			t.Tier, t.Attempted, t.Count,
			formatScore(t.Mean), formatScore(t.Variance),
			formatScore(t.Min), formatScore(t.Max), t.Excluded)
	}
	sb.WriteString("\n")

	if r.BottleneckTier != "" {
		fmt.Fprintf(&sb, "**Bottleneck:** %s (lowest mean relative to overall)\n\n", r.BottleneckTier)
	}

	if len(r.Cells) > 0 {
		sb.WriteString("## Scores by Tier, Community, and Conversation Length\n\n")
		sb.WriteString("| Tier | Community | Length | Scored | Mean | Variance | Min | Max | Excluded |\n")
		sb.WriteString("|---|---|---|---:|---:|---:|---:|---:|---:|\n")
		for i := range r.Cells {
			c := &r.Cells[i]
			fmt.Fprintf(&sb, "| %s | %s | %s | %d | %s | %s | %s | %s | %d |\n",
				c.Tier, c.CommunityID, c.Bucket, c.Count,
				formatScore(c.Mean), formatScore(c.Variance),
				formatScore(c.Min), formatScore(c.Max), c.Excluded)
		}
		sb.WriteString("\n")
	}

	if len(r.ExcludedByKind) > 0 {
		sb.WriteString("## Excluded by Kind\n\n")
		kinds := make([]string, 0, len(r.ExcludedByKind))
		for kind := range r.ExcludedByKind {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(&sb, "- **%s:** %d\n", kind, r.ExcludedByKind[kind])
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatScore renders scores with fixed precision so tables stay aligned
// and output stays deterministic.
func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
