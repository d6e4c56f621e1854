package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/goscli/pkg/models"
)

// FormatSummary formats usage summaries as a text table.
func FormatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-25s %8s %6s %9s %10s %10s %10s\n",
		"Provider", "Model", "Requests", "Cached", "Fallbacks", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 97) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-12s %-25s %8d %6d %9d %10d %10d %10d\n",
			r.Provider, r.Model, r.RequestCount, r.CacheHits, r.Fallbacks, r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Fast entries:    %d\n"+
		"  Durable entries: %d\n"+
		"  Hits:            %d\n"+
		"  Misses:          %d\n"+
		"  Evictions:       %d\n"+
		"  Hit Rate:        %.1f%%\n",
		stats.FastEntries, stats.DurableEntries, stats.Hits, stats.Misses, stats.Evictions, hitRate)
}
