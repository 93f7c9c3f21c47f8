// Package summary turns batch outcomes into a result and a human-readable report.
package summary

import (
	"fmt"
	"io"
	"strings"

	"batchdl/internal/consts"
	"batchdl/internal/entity"
)

const header = "===== SUMMARY ====="

// Summarize partitions outcomes by status, keeping the order in which they were recorded.
func Summarize(outcomes []entity.Outcome) entity.BatchResult {
	result := entity.BatchResult{
		Succeeded: make([]string, 0, len(outcomes)),
		Failed:    []string{},
	}

	for _, o := range outcomes {
		if o.Status == entity.OutcomeSuccess {
			result.Succeeded = append(result.Succeeded, o.JobName)

			continue
		}

		result.Failed = append(result.Failed, o.JobName)
	}

	return result
}

// Write prints the counts followed by one line per job.
func Write(w io.Writer, result entity.BatchResult) error {
	var b strings.Builder

	b.WriteString("\n" + header + "\n")
	fmt.Fprintf(&b, "%s OK: %d | %s FAIL: %d\n", consts.MarkOK, len(result.Succeeded), consts.MarkFail, len(result.Failed))

	for _, name := range result.Succeeded {
		fmt.Fprintf(&b, "%s %s\n", consts.MarkOK, name)
	}

	for _, name := range result.Failed {
		fmt.Fprintf(&b, "%s %s\n", consts.MarkFail, name)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}
