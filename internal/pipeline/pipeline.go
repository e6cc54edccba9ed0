// Package pipeline runs one full recomputation: classify, value, reconcile, aggregate and
// publish.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelcm/admira-attribution/internal/aggregate"
	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/lifecycle"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/metrics"
	"github.com/angelcm/admira-attribution/internal/models"
	"github.com/angelcm/admira-attribution/internal/rates"
	"github.com/angelcm/admira-attribution/internal/source"
	"github.com/angelcm/admira-attribution/internal/store"
	"github.com/angelcm/admira-attribution/internal/valuation"
)

// Request selects the credited-date range to rebuild and the observation instant.
// Identical requests over identical inputs produce identical grids.
type Request struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
	AsOf time.Time `validate:"required"`
}

type Options struct {
	PartitionDays int
	Workers       int
	Breakdowns    []string
}

type Deps struct {
	Events      source.EventSource
	Performance source.PerformanceSource
	Hierarchy   source.HierarchySource
	Writer      store.Writer
	Cohorts     rates.Table
	Prices      []valuation.Price
	Windows     valuation.Windows
	Logger      *logger.Logger
	Recorder    *metrics.Recorder
}

type Runner struct {
	deps      Deps
	opts      Options
	assigner  *rates.Assigner
	prices    valuation.PriceTable
	estimator valuation.Estimator
	engine    *aggregate.Engine
	validate  *validator.Validate
	running   atomic.Bool
	now       func() time.Time
}

func New(deps Deps, opts Options) *Runner {
	if opts.PartitionDays < 1 {
		opts.PartitionDays = 7
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Runner{
		deps:      deps,
		opts:      opts,
		assigner:  rates.NewAssigner(deps.Cohorts),
		prices:    valuation.NewPriceTable(deps.Prices),
		estimator: valuation.NewEstimator(deps.Windows),
		engine:    aggregate.NewEngine(opts.Workers),
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Run rebuilds both grids for req and publishes them in one write. Only one run may be
// active at a time. On error nothing is published and the report carries the cause.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		if r.deps.Recorder != nil {
			r.deps.Recorder.RunRejected()
		}
		err := ierr.NewError("a run is already in progress").
			WithHint("wait for the current run to finish").
			Mark(ierr.ErrRunInProgress)
		return Report{Status: StatusFailed, Error: err.Error(), Hint: ierr.Hint(err)}, err
	}
	defer r.running.Store(false)

	req.From, req.To = models.Day(req.From), models.Day(req.To)
	req.AsOf = req.AsOf.UTC()
	rep := Report{
		RunID:     uuid.New(),
		From:      req.From.Format(time.DateOnly),
		To:        req.To.Format(time.DateOnly),
		AsOf:      req.AsOf,
		StartedAt: r.now().UTC(),
		Quality:   newQualityReport(),
	}
	log := r.deps.Logger.With("run_id", rep.RunID.String())

	err := r.run(ctx, req, &rep, log)
	rep.Duration = r.now().Sub(rep.StartedAt)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		rep.Hint = ierr.Hint(err)
		outcome = metrics.OutcomeFailed
		log.Error("run failed", "error", err, "fatal", ierr.IsFatal(err), "duration", rep.Duration)
	} else {
		rep.Status = StatusSucceeded
		for _, w := range rep.Quality.Warnings() {
			rep.Warnings = append(rep.Warnings, w.Error()+": "+ierr.Hint(w))
			log.Warn(w.Error(), "detail", ierr.Hint(w))
		}
		log.Info("run published", "overall_rows", rep.OverallRows, "breakdown_rows", rep.BreakdownRows,
			"lifecycles", rep.Quality.Lifecycles, "guarded_divisions", rep.Quality.GuardedDivisions,
			"duration", rep.Duration)
	}
	if r.deps.Recorder != nil {
		r.deps.Recorder.RunFinished(outcome, rep.Duration, metrics.RunStats{
			Events:           rep.Quality.EventsRead,
			Skipped:          rep.Quality.SkippedEvents,
			Lifecycles:       rep.Quality.Dispositions(),
			CohortDefaults:   rep.Quality.CohortDefaults,
			GuardedDivisions: rep.Quality.GuardedDivisions,
			OverallRows:      rep.OverallRows,
			BreakdownRows:    rep.BreakdownRows,
		})
	}
	return rep, err
}

func (r *Runner) run(ctx context.Context, req Request, rep *Report, log *logger.Logger) error {
	err := r.validate.Struct(req)
	if err == nil && (req.From.IsZero() || req.AsOf.IsZero()) {
		err = ierr.NewError("zero time in request").Mark(ierr.ErrValidation)
	}
	if err != nil {
		return ierr.WithError(err).WithHint("from, to and as_of are required and from must not be after to").Mark(ierr.ErrValidation)
	}
	full := source.Window{From: req.From, To: req.To, AsOf: req.AsOf}

	perf, err := r.deps.Performance.LoadPerformance(ctx, full)
	if err != nil {
		return markFatal(err, ierr.ErrReferenceSourceUnavailable)
	}
	if len(perf) == 0 {
		return ierr.NewError("advertising performance is empty for the run range").
			WithHintf("no performance rows between %s and %s", rep.From, rep.To).
			Mark(ierr.ErrReferenceSourceUnavailable)
	}
	hier, err := r.deps.Hierarchy.LoadHierarchy(ctx)
	if err != nil {
		return markFatal(err, ierr.ErrReferenceSourceUnavailable)
	}
	rep.Quality.PerformanceRows = len(perf)

	windows := Partitions(full, r.opts.PartitionDays)
	rep.Partitions = len(windows)
	log.Info("run started", "from", rep.From, "to", rep.To, "as_of", req.AsOf, "partitions", len(windows))

	accs := make([]*aggregate.Accumulator, len(windows))
	quality := make([]QualityReport, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			acc, q, err := r.processPartition(gctx, w, req)
			if err != nil {
				return err
			}
			accs[i], quality[i] = acc, q
			log.Debug("partition done", "from", w.From.Format(time.DateOnly), "lifecycles", q.Lifecycles)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	acc := aggregate.NewAccumulator(req.From, req.To, r.opts.Breakdowns)
	for i := range windows {
		acc.Merge(accs[i])
		rep.Quality.merge(quality[i])
	}
	for _, p := range perf {
		acc.AddPerformance(p)
	}

	grid, err := r.engine.Build(ctx, acc, hier)
	if err != nil {
		return err
	}
	rep.Quality.IgnoredPerformanceRows = grid.Stats.IgnoredPerfRows
	rep.Quality.RejectedHierarchyEdges = grid.Stats.RejectedEdges
	rep.Quality.OrphanLeafCells = grid.Stats.OrphanLeafCells
	rep.Quality.LeafCells = grid.Stats.LeafCells
	rep.Quality.GuardedDivisions = grid.Stats.GuardedDivisions

	// Last chance to abandon the run before anything becomes visible.
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := store.Snapshot{
		RunID:     rep.RunID,
		AsOf:      req.AsOf,
		From:      req.From,
		To:        req.To,
		Overall:   grid.Overall,
		Breakdown: grid.Breakdown,
	}
	if err := r.deps.Writer.ReplaceAll(ctx, snap); err != nil {
		return markFatal(err, ierr.ErrWriteTransactionFailure)
	}
	rep.OverallRows, rep.BreakdownRows = len(grid.Overall), len(grid.Breakdown)
	return nil
}

// processPartition streams one window of lifecycle keys into a private accumulator.
func (r *Runner) processPartition(ctx context.Context, w source.Window, req Request) (*aggregate.Accumulator, QualityReport, error) {
	acc := aggregate.NewAccumulator(req.From, req.To, r.opts.Breakdowns)
	q := newQualityReport()

	grouper := lifecycle.NewGrouper(func(key models.LifecycleKey, evs []models.RawEvent) error {
		lc := r.value(key, evs, req.AsOf)
		q.Lifecycles++
		q.LifecycleStatuses[string(lc.Status)]++
		if lc.Rates.Defaulted {
			q.CohortDefaults++
		}
		if !lc.Valid {
			q.InvalidLifecycles[lc.InvalidReason]++
			return nil
		}
		switch acc.AddLifecycle(lc) {
		case aggregate.OutOfRange:
			q.OutOfRangeLifecycles++
		case aggregate.Unattributed:
			q.InvalidLifecycles[lifecycle.InvalidUnattributed]++
		}
		return nil
	})

	err := r.deps.Events.StreamEvents(ctx, w, grouper.Add)
	if err == nil {
		err = grouper.Flush()
	}
	if err != nil {
		return nil, q, markFatal(err, ierr.ErrEventSourceUnavailable)
	}
	q.EventsRead = grouper.Events()
	q.SkippedEvents = grouper.Skipped()
	return acc, q, nil
}

// value runs one key through classification, pricing, cohort rates and valuation.
func (r *Runner) value(key models.LifecycleKey, evs []models.RawEvent, asOf time.Time) models.Lifecycle {
	lc := lifecycle.Classify(key, evs)
	lc = valuation.ApplyPrice(lc, r.prices)
	lc.Rates = r.assigner.Assign(lc)
	return r.estimator.Estimate(lc, asOf)
}

// Partitions splits w into consecutive windows of days days. The last one may be shorter.
func Partitions(w source.Window, days int) []source.Window {
	if days < 1 {
		days = 1
	}
	var out []source.Window
	for start := models.Day(w.From); !start.After(w.To); start = start.AddDate(0, 0, days) {
		end := start.AddDate(0, 0, days-1)
		if end.After(w.To) {
			end = models.Day(w.To)
		}
		out = append(out, source.Window{From: start, To: end, AsOf: w.AsOf})
	}
	return out
}

// markFatal keeps an existing class and otherwise applies the given one. Context errors
// pass through untouched.
func markFatal(err, class error) error {
	if ierr.IsFatal(err) || ierr.Is(err, context.Canceled) || ierr.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ierr.WithError(err).Mark(class)
}
