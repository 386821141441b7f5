package models

// MaxSummaryLen bounds the summary text a worker result may carry in
// memory. Anything longer must be externalized behind DetailRef so the
// coordinator never accumulates unbounded output.
const MaxSummaryLen = 2048

// Result is the narrow contract a worker reports back per unit.
type Result struct {
	// OK is true if the unit's work finished successfully.
	OK bool `json:"ok"`
	// Blocked is true if the work could not start due to a missing
	// precondition. Blocked results are never retried automatically.
	Blocked bool `json:"blocked"`
	// Summary is a bounded, human-readable outcome description.
	Summary string `json:"summary"`
	// DetailRef points at externalized full output, if any.
	DetailRef string `json:"detail_ref,omitempty"`
	// Attempts is the number of execution attempts the dispatcher made,
	// including the first. At least 1 for any dispatched unit.
	Attempts int `json:"attempts"`
}

// TruncateSummary bounds s to MaxSummaryLen, marking the cut.
func TruncateSummary(s string) string {
	if len(s) <= MaxSummaryLen {
		return s
	}
	const marker = "... [truncated]"
	return s[:MaxSummaryLen-len(marker)] + marker
}
