package pipeline

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
)

// QualityReport counts every record that was dropped, defaulted or guarded during a run.
// None of these stop a run.
type QualityReport struct {
	EventsRead             int            `json:"events_read"`
	SkippedEvents          map[string]int `json:"skipped_events"`
	Lifecycles             int            `json:"lifecycles"`
	LifecycleStatuses      map[string]int `json:"lifecycle_statuses"`
	InvalidLifecycles      map[string]int `json:"invalid_lifecycles"`
	OutOfRangeLifecycles   int            `json:"out_of_range_lifecycles"`
	CohortDefaults         int            `json:"cohort_defaults"`
	PerformanceRows        int            `json:"performance_rows"`
	IgnoredPerformanceRows int            `json:"ignored_performance_rows"`
	RejectedHierarchyEdges int            `json:"rejected_hierarchy_edges"`
	OrphanLeafCells        int            `json:"orphan_leaf_cells"`
	LeafCells              int            `json:"leaf_cells"`
	GuardedDivisions       int            `json:"guarded_divisions"`
}

func newQualityReport() QualityReport {
	return QualityReport{
		SkippedEvents:     map[string]int{},
		LifecycleStatuses: map[string]int{},
		InvalidLifecycles: map[string]int{},
	}
}

func (q *QualityReport) merge(o QualityReport) {
	q.EventsRead += o.EventsRead
	q.Lifecycles += o.Lifecycles
	q.OutOfRangeLifecycles += o.OutOfRangeLifecycles
	q.CohortDefaults += o.CohortDefaults
	addCounts(q.SkippedEvents, o.SkippedEvents)
	addCounts(q.LifecycleStatuses, o.LifecycleStatuses)
	addCounts(q.InvalidLifecycles, o.InvalidLifecycles)
}

func addCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

// Dispositions summarizes lifecycles for the run counters.
func (q QualityReport) Dispositions() map[string]int {
	invalid := lo.Sum(lo.Values(q.InvalidLifecycles))
	return map[string]int{
		"aggregated":   q.Lifecycles - invalid - q.OutOfRangeLifecycles,
		"invalid":      invalid,
		"out_of_range": q.OutOfRangeLifecycles,
	}
}

// Warnings names the non-fatal classes this run hit, one error per class and reason.
func (q QualityReport) Warnings() []error {
	var out []error
	reasons := lo.Keys(q.SkippedEvents)
	sort.Strings(reasons)
	for _, r := range reasons {
		out = append(out, ierr.NewError("events skipped").
			WithHintf("%d events dropped: %s", q.SkippedEvents[r], r).
			Mark(ierr.ErrSkippedRecord))
	}
	if q.CohortDefaults > 0 {
		out = append(out, ierr.NewError("no cohort segment matched").
			WithHintf("%d lifecycles valued with default rates", q.CohortDefaults).
			Mark(ierr.ErrMissingCohort))
	}
	if q.GuardedDivisions > 0 {
		out = append(out, ierr.NewError("accuracy adjustment skipped for zero ratios").
			WithHintf("%d cells kept unadjusted revenue", q.GuardedDivisions).
			Mark(ierr.ErrGuardedDivision))
	}
	return out
}

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Report struct {
	RunID         uuid.UUID     `json:"run_id"`
	Status        string        `json:"status"`
	From          string        `json:"from"`
	To            string        `json:"to"`
	AsOf          time.Time     `json:"as_of"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Partitions    int           `json:"partitions"`
	OverallRows   int           `json:"overall_rows"`
	BreakdownRows int           `json:"breakdown_rows"`
	Quality       QualityReport `json:"quality"`
	Warnings      []string      `json:"warnings,omitempty"`
	Error         string        `json:"error,omitempty"`
	Hint          string        `json:"hint,omitempty"`
}
