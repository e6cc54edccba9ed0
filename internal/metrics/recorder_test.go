package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderRunFinished(t *testing.T) {
	r := NewRecorder()
	r.RunFinished(OutcomeSuccess, 2*time.Second, RunStats{
		Events:           10,
		Skipped:          map[string]int{"missing_user_id": 2},
		Lifecycles:       map[string]int{"valid": 4, "unattributed": 1},
		CohortDefaults:   3,
		GuardedDivisions: 1,
		OverallRows:      7,
		BreakdownRows:    5,
	})
	r.RunFinished(OutcomeFailed, time.Second, RunStats{Events: 3})
	r.RunRejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 13.0, testutil.ToFloat64(r.events))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.skipped.WithLabelValues("missing_user_id")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.lifecycles.WithLabelValues("valid")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.rowsWritten.WithLabelValues("overall")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))
}

func TestRecordersDoNotShareRegistries(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.RunRejected()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runs.WithLabelValues(OutcomeRejected)))
}
