package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/models"
)

const (
	overallTable     = "entity_daily_metrics"
	breakdownTable   = "entity_daily_breakdown_metrics"
	generationsTable = "metrics_generations"
)

// Schema creates the grid tables. Both grids share the metric columns; the breakdown grid
// adds the breakdown pair to its key.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_daily_metrics (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	entity_name TEXT NOT NULL DEFAULT '',
	date DATE NOT NULL,
	` + metricColumnsDDL + `,
	PRIMARY KEY (entity_type, entity_id, date)
);
CREATE TABLE IF NOT EXISTS entity_daily_breakdown_metrics (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	entity_name TEXT NOT NULL DEFAULT '',
	date DATE NOT NULL,
	breakdown_type TEXT NOT NULL,
	breakdown_value TEXT NOT NULL,
	` + metricColumnsDDL + `,
	PRIMARY KEY (entity_type, entity_id, date, breakdown_type, breakdown_value)
);
CREATE TABLE IF NOT EXISTS metrics_generations (
	run_id UUID PRIMARY KEY,
	as_of TIMESTAMPTZ NOT NULL,
	from_date DATE NOT NULL,
	to_date DATE NOT NULL,
	overall_rows INTEGER NOT NULL,
	breakdown_rows INTEGER NOT NULL,
	published_at TIMESTAMPTZ NOT NULL
);`

const metricColumnsDDL = `local_trials BIGINT NOT NULL,
	local_purchases BIGINT NOT NULL,
	local_conversions BIGINT NOT NULL,
	local_refunds BIGINT NOT NULL,
	reference_trials BIGINT NOT NULL,
	reference_purchases BIGINT NOT NULL,
	users BIGINT NOT NULL,
	spend NUMERIC(18,2) NOT NULL,
	impressions BIGINT NOT NULL,
	clicks BIGINT NOT NULL,
	actual_revenue NUMERIC(18,2) NOT NULL,
	estimated_revenue NUMERIC(18,2) NOT NULL,
	adjusted_revenue NUMERIC(18,2) NOT NULL,
	profit NUMERIC(18,2) NOT NULL,
	roas DOUBLE PRECISION NOT NULL,
	trial_accuracy DOUBLE PRECISION NOT NULL,
	purchase_accuracy DOUBLE PRECISION NOT NULL,
	est_conversion_rate DOUBLE PRECISION NOT NULL,
	est_trial_refund_rate DOUBLE PRECISION NOT NULL,
	est_purchase_refund_rate DOUBLE PRECISION NOT NULL,
	actual_conversion_rate DOUBLE PRECISION NOT NULL,
	actual_refund_rate DOUBLE PRECISION NOT NULL,
	cost_per_trial NUMERIC(18,2) NOT NULL,
	cost_per_purchase NUMERIC(18,2) NOT NULL,
	cpc NUMERIC(18,2) NOT NULL`

var metricColumns = []string{
	"local_trials", "local_purchases", "local_conversions", "local_refunds",
	"reference_trials", "reference_purchases", "users",
	"spend", "impressions", "clicks",
	"actual_revenue", "estimated_revenue", "adjusted_revenue", "profit", "roas",
	"trial_accuracy", "purchase_accuracy",
	"est_conversion_rate", "est_trial_refund_rate", "est_purchase_refund_rate",
	"actual_conversion_rate", "actual_refund_rate",
	"cost_per_trial", "cost_per_purchase", "cpc",
}

// TxBeginner is satisfied by *pgx.Conn and *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db  TxBeginner
	now func() time.Time
}

func NewPostgresStore(db TxBeginner) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.executeTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, Schema)
		return err
	})
}

// ReplaceAll deletes both grids and loads the snapshot in one transaction. DELETE keeps
// the old rows visible to concurrent readers until commit, unlike TRUNCATE.
func (s *PostgresStore) ReplaceAll(ctx context.Context, snap Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	gen := generationOf(snap, s.now().UTC())
	err := s.executeTx(ctx, func(tx pgx.Tx) error {
		for _, t := range []string{overallTable, breakdownTable} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+t); err != nil {
				return ierr.Wrapf(err, "clear %s", t)
			}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{overallTable}, overallColumns(), pgx.CopyFromRows(overallRows(snap.Overall))); err != nil {
			return ierr.Wrapf(err, "copy %s", overallTable)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{breakdownTable}, breakdownColumns(), pgx.CopyFromRows(breakdownRows(snap.Breakdown))); err != nil {
			return ierr.Wrapf(err, "copy %s", breakdownTable)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+generationsTable+` (run_id, as_of, from_date, to_date, overall_rows, breakdown_rows, published_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pgtype.UUID{Bytes: gen.RunID, Valid: true}, gen.AsOf, gen.From, gen.To,
			gen.OverallRows, gen.BreakdownRows, gen.PublishedAt)
		return ierr.Wrap(err, "record generation")
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("previous snapshot is still published").
			Mark(ierr.ErrWriteTransactionFailure)
	}
	return nil
}

func (s *PostgresStore) executeTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	return fn(tx)
}

func overallColumns() []string {
	return append([]string{"entity_type", "entity_id", "entity_name", "date"}, metricColumns...)
}

func breakdownColumns() []string {
	return append([]string{"entity_type", "entity_id", "entity_name", "date", "breakdown_type", "breakdown_value"}, metricColumns...)
}

func overallRows(rows []models.EntityDailyMetric) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		row := []any{r.Entity.Type.String(), r.Entity.ID, r.EntityName, r.Date}
		out = append(out, append(row, metricValues(r.Metrics)...))
	}
	return out
}

func breakdownRows(rows []models.EntityDailyMetric) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		row := []any{r.Entity.Type.String(), r.Entity.ID, r.EntityName, r.Date, r.Breakdown.Type, r.Breakdown.Value}
		out = append(out, append(row, metricValues(r.Metrics)...))
	}
	return out
}

func metricValues(m models.Metrics) []any {
	return []any{
		m.LocalTrials, m.LocalPurchases, m.LocalConversions, m.LocalRefunds,
		m.ReferenceTrials, m.ReferencePurchases, m.Users,
		numeric(m.Spend), m.Impressions, m.Clicks,
		numeric(m.ActualRevenue), numeric(m.EstimatedRevenue), numeric(m.AdjustedRevenue), numeric(m.Profit), m.ROAS,
		m.TrialAccuracy, m.PurchaseAccuracy,
		m.EstConversionRate, m.EstTrialRefundRate, m.EstPurchaseRefundRate,
		m.ActualConversionRate, m.ActualRefundRate,
		numeric(m.CostPerTrial), numeric(m.CostPerPurchase), numeric(m.CPC),
	}
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
