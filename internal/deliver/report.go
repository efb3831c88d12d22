package deliver

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classifies one publication's run result.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// PublicationResult is the per-publication line of the consolidated summary.
type PublicationResult struct {
	Name     string
	Outcome  Outcome
	Editions int // editions newly processed this run
	Skipped  int // editions already handled by an earlier run
	Emailed  int // edition emails that went out
	Uploaded int // physical uploads performed
	Failed   int // editions that failed this run

	// Transient marks a failure the next scheduled run is expected to heal
	// on its own. Only meaningful when Outcome is OutcomeFailed.
	Transient bool
	Err       error
}

// Result is the consolidated outcome of one delivery run. One summary is
// produced per run, never one notification per publication.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Publications []PublicationResult
	Fatal        error // run-fatal abort, remaining publications untouched
}

// Worst returns the most severe outcome across the run, for choosing the
// summary notification level.
func (r *Result) Worst() Outcome {
	if r.Fatal != nil {
		return OutcomeFailed
	}
	worst := OutcomeSkipped
	for _, p := range r.Publications {
		if p.Outcome == OutcomeFailed {
			return OutcomeFailed
		}
		if p.Outcome == OutcomeSucceeded {
			worst = OutcomeSucceeded
		}
	}
	return worst
}

// TransientOnly reports whether every failure in the run is one the next
// scheduled run is expected to heal on its own. Such runs are surfaced as a
// warning notification rather than an error. A fatal abort or any hard
// failure disqualifies the run.
func (r *Result) TransientOnly() bool {
	if r.Fatal != nil {
		return false
	}
	failed := false
	for _, p := range r.Publications {
		if p.Outcome != OutcomeFailed {
			continue
		}
		failed = true
		if !p.Transient {
			return false
		}
	}
	return failed
}

// Markdown renders the consolidated run summary.
func (r *Result) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Delivery run %s\n\n", r.StartedAt.Format("2006-01-02 15:04"))

	var succeeded, skipped, failed int
	for _, p := range r.Publications {
		switch p.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	fmt.Fprintf(&b, "%d publication(s): %d succeeded, %d skipped, %d failed.\n\n",
		len(r.Publications), succeeded, skipped, failed)

	for _, p := range r.Publications {
		fmt.Fprintf(&b, "- **%s**: %s", p.Name, p.Outcome)
		if p.Outcome != OutcomeSkipped {
			fmt.Fprintf(&b, " (%d new, %d already done, %d emailed, %d uploaded",
				p.Editions, p.Skipped, p.Emailed, p.Uploaded)
			if p.Failed > 0 {
				fmt.Fprintf(&b, ", %d failed", p.Failed)
			}
			b.WriteString(")")
		}
		if p.Err != nil {
			fmt.Fprintf(&b, " — %v", p.Err)
		}
		b.WriteString("\n")
	}

	if r.Fatal != nil {
		fmt.Fprintf(&b, "\nRun aborted: %v\n", r.Fatal)
	}

	duration := r.FinishedAt.Sub(r.StartedAt).Round(time.Second)
	fmt.Fprintf(&b, "\nRun %s finished in %s.\n", r.RunID, duration)
	return b.String()
}
