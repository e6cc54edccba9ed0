package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/metrics"
	"github.com/angelcm/admira-attribution/internal/pipeline"
)

type fakeTrigger struct {
	got pipeline.Request
	err error
}

func (f *fakeTrigger) Run(_ context.Context, req pipeline.Request) (pipeline.Report, error) {
	f.got = req
	rep := pipeline.Report{Status: pipeline.StatusSucceeded, OverallRows: 3}
	if f.err != nil {
		rep.Status = pipeline.StatusFailed
		rep.Error = f.err.Error()
	}
	return rep, f.err
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPostRuns(t *testing.T) {
	trig := &fakeTrigger{}
	h := NewRouter(logger.NewNop(), Deps{Trigger: trig})

	rr := post(t, h, `{"from":"2025-08-01","to":"2025-08-31","as_of":"2025-09-30"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, pipeline.StatusSucceeded, rep.Status)
	assert.Equal(t, 3, rep.OverallRows)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), trig.got.From)
	assert.Equal(t, time.Date(2025, 9, 30, 23, 59, 59, 0, time.UTC), trig.got.AsOf)
}

func TestPostRunsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "bad date", body: `{"from":"08/01/2025","to":"2025-08-31","as_of":"2025-09-30"}`, code: http.StatusBadRequest},
		{name: "bad as_of", body: `{"from":"2025-08-01","to":"2025-08-31","as_of":"soon"}`, code: http.StatusBadRequest},
		{name: "busy", body: `{"from":"2025-08-01","to":"2025-08-31","as_of":"2025-09-30T00:00:00Z"}`,
			err: ierr.NewError("busy").Mark(ierr.ErrRunInProgress), code: http.StatusConflict},
		{name: "reference missing", body: `{"from":"2025-08-01","to":"2025-08-31","as_of":"2025-09-30"}`,
			err: ierr.NewError("empty").Mark(ierr.ErrReferenceSourceUnavailable), code: http.StatusBadGateway},
		{name: "write failed", body: `{"from":"2025-08-01","to":"2025-08-31","as_of":"2025-09-30"}`,
			err: ierr.WithError(errors.New("deadlock")).Mark(ierr.ErrWriteTransactionFailure), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(logger.NewNop(), Deps{Trigger: &fakeTrigger{err: tt.err}})
			rr := post(t, h, tt.body)
			assert.Equal(t, tt.code, rr.Code)
			assert.Contains(t, rr.Body.String(), "error")
		})
	}
}

func TestProbesAndMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.RunRejected()
	ready := errors.New("postgres down")
	h := NewRouter(logger.NewNop(), Deps{
		Trigger:  &fakeTrigger{},
		Registry: rec.Registry,
		Ready:    func(context.Context) error { return ready },
	})

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}
	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	ready = nil
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	m := get("/metrics")
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), `admira_precompute_runs_total{outcome="rejected"} 1`)
}
