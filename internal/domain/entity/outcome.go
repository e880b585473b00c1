package entity

import "time"

// Status is the per-entity state within a run. Terminal states are final
// and never reprocessed within the same run.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusOK, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// EntityOutcome is the result of fetching one entity: produced exactly
// once per entity per run.
type EntityOutcome struct {
	Entity         Entity
	Status         Status
	RecordsWritten int64

	// Err carries the structured failure for partial/failed outcomes,
	// including the failing cursor position when a page fetch broke.
	Err error
}

// RunSummary aggregates all entity outcomes of one run. The run always
// completes and returns a summary; partial data is preferable to an
// aborted run.
type RunSummary struct {
	Total          int
	OK             int
	Partial        int
	Failed         int
	RecordsWritten int64
	Elapsed        time.Duration
	Outcomes       []EntityOutcome
}

// Add folds one outcome into the summary.
func (s *RunSummary) Add(o EntityOutcome) {
	s.Total++
	s.RecordsWritten += o.RecordsWritten
	switch o.Status {
	case StatusOK:
		s.OK++
	case StatusPartial:
		s.Partial++
	default:
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// FailedEntities returns the outcomes that need re-running, in run order.
func (s *RunSummary) FailedEntities() []EntityOutcome {
	var out []EntityOutcome
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed || o.Status == StatusPartial {
			out = append(out, o)
		}
	}
	return out
}
