package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders the report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Evaluation Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window start: %s\n\n", time.UnixMilli(r.SinceMs).UTC().Format(time.RFC3339)))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Results | %d |\n", r.TotalResults))
	sb.WriteString(fmt.Sprintf("| Distinct Trades | %d |\n", r.DistinctTrades))
	if r.TotalResults > 0 {
		sb.WriteString(fmt.Sprintf("| Score Mean | %.4f |\n", r.ScoreMean))
		sb.WriteString(fmt.Sprintf("| Score Median | %.4f |\n", r.ScoreMedian()))
		sb.WriteString(fmt.Sprintf("| Score Min | %.4f |\n", r.ScoreMin))
		sb.WriteString(fmt.Sprintf("| Score Max | %.4f |\n", r.ScoreMax))
	}
	sb.WriteString("\n")

	// Score distribution
	sb.WriteString("## Score Distribution\n\n")
	sb.WriteString("| Band | Range | Count |\n")
	sb.WriteString("|------|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Strong | >= %.1f | %d |\n", strongThreshold, r.StrongCount))
	sb.WriteString(fmt.Sprintf("| Moderate | %.1f - %.1f | %d |\n", moderateThreshold, strongThreshold, r.ModerateCount))
	sb.WriteString(fmt.Sprintf("| Weak | < %.1f | %d |\n", moderateThreshold, r.WeakCount))
	sb.WriteString("\n")

	// Results table
	sb.WriteString("## Results\n\n")
	if len(r.Rows) == 0 {
		sb.WriteString("No results in window.\n")
		return sb.String()
	}
	sb.WriteString("| Trade | Score | Summary | Created |\n")
	sb.WriteString("|-------|-------|---------|------|\n")
	for _, row := range r.Rows {
		sb.WriteString(fmt.Sprintf("| %d | %.4f | %s | %s |\n",
			row.TradeID,
			row.Score,
			mdEscape(row.Summary),
			time.UnixMilli(row.CreatedAt).UTC().Format(time.RFC3339),
		))
	}

	return sb.String()
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
