package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/pipeline"
	"github.com/angelcm/admira-attribution/internal/utils"
)

// Trigger starts a run and waits for its report.
type Trigger interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Report, error)
}

type Deps struct {
	Trigger  Trigger
	Registry *prometheus.Registry
	// Ready reports whether the stores behind the trigger are reachable. nil means always ready.
	Ready func(ctx context.Context) error
}

type runRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	AsOf string `json:"as_of"`
}

func NewRouter(log *logger.Logger, d Deps) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	if d.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	mux.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		var body runRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ierr.WithError(err).WithHint("body must be JSON with from, to and as_of").Mark(ierr.ErrValidation))
			return
		}
		req, err := body.parse()
		if err != nil {
			writeError(w, err)
			return
		}
		rep, err := d.Trigger.Run(r.Context(), req)
		if err != nil {
			writeJSON(w, statusFor(err), rep)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	return mux
}

func (b runRequest) parse() (pipeline.Request, error) {
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(b.From))
	if err != nil {
		return pipeline.Request{}, ierr.WithError(err).WithHint("from must be YYYY-MM-DD").Mark(ierr.ErrValidation)
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(b.To))
	if err != nil {
		return pipeline.Request{}, ierr.WithError(err).WithHint("to must be YYYY-MM-DD").Mark(ierr.ErrValidation)
	}
	asOf, err := ParseAsOf(b.AsOf)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{From: from, To: to, AsOf: asOf}, nil
}

// ParseAsOf accepts RFC 3339 or a bare date, which means the end of that day in UTC.
func ParseAsOf(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, ierr.WithError(err).WithHint("as_of must be RFC 3339 or YYYY-MM-DD").Mark(ierr.ErrValidation)
	}
	return d.Add(24*time.Hour - time.Second), nil
}

func statusFor(err error) int {
	switch {
	case ierr.Is(err, ierr.ErrValidation):
		return http.StatusBadRequest
	case ierr.Is(err, ierr.ErrRunInProgress):
		return http.StatusConflict
	case ierr.Is(err, ierr.ErrReferenceSourceUnavailable), ierr.Is(err, ierr.ErrEventSourceUnavailable):
		return http.StatusBadGateway
	case ierr.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error(), "hint": ierr.Hint(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
