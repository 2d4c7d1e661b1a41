package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders result rows as a CSV string.
func RenderCSV(rows []ResultRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("result_id,trade_id,job_id,score,summary,created_at\n")

	// Rows
	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%s,%.6f,%s,%s\n",
			row.ResultID,
			row.TradeID,
			row.JobID,
			row.Score,
			csvEscape(row.Summary),
			time.UnixMilli(row.CreatedAt).UTC().Format(time.RFC3339),
		))
	}

	return sb.String()
}

// csvEscape quotes a field when it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
