package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/models"
)

// Snapshot is the complete output of one run. Overall and breakdown rows are always
// published together.
type Snapshot struct {
	RunID     uuid.UUID
	AsOf      time.Time
	From      time.Time
	To        time.Time
	Overall   []models.EntityDailyMetric
	Breakdown []models.EntityDailyMetric
}

// Writer replaces the published grids with a snapshot, atomically. On error the
// previously published snapshot must still be the visible one.
type Writer interface {
	ReplaceAll(ctx context.Context, s Snapshot) error
}

// Generation describes the snapshot currently visible to readers.
type Generation struct {
	RunID         uuid.UUID
	AsOf          time.Time
	From          time.Time
	To            time.Time
	OverallRows   int
	BreakdownRows int
	PublishedAt   time.Time
}

func generationOf(s Snapshot, at time.Time) Generation {
	return Generation{
		RunID:         s.RunID,
		AsOf:          s.AsOf,
		From:          s.From,
		To:            s.To,
		OverallRows:   len(s.Overall),
		BreakdownRows: len(s.Breakdown),
		PublishedAt:   at,
	}
}

// validate rejects snapshots that would violate the grid keys: duplicate cells, breakdown
// rows in the overall grid and the reverse.
func validate(s Snapshot) error {
	seen := make(map[models.MetricKey]struct{}, len(s.Overall)+len(s.Breakdown))
	check := func(rows []models.EntityDailyMetric, wantAll bool) error {
		for _, r := range rows {
			if r.Breakdown.IsAll() != wantAll {
				return ierr.NewError("row in wrong grid").
					WithHintf("%s on %s has breakdown %q", r.Entity, r.Date.Format("2006-01-02"), r.Breakdown.Type).
					Mark(ierr.ErrWriteTransactionFailure)
			}
			if _, dup := seen[r.MetricKey]; dup {
				return ierr.NewError("duplicate grid cell").
					WithHintf("%s on %s %s=%s", r.Entity, r.Date.Format("2006-01-02"), r.Breakdown.Type, r.Breakdown.Value).
					Mark(ierr.ErrWriteTransactionFailure)
			}
			seen[r.MetricKey] = struct{}{}
		}
		return nil
	}
	if err := check(s.Overall, true); err != nil {
		return err
	}
	return check(s.Breakdown, false)
}
