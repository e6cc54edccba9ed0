package source

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/models"
)

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

func OpenClickHouse(cfg ClickHouseConfig) (driver.Conn, error) {
	return clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Protocol: clickhouse.Native,
		Settings: clickhouse.Settings{
			"max_execution_time": 600,
		},
		DialTimeout: 10 * time.Second,
	})
}

// Keys are assigned to the window holding their credit anchor: the earliest trial start,
// else the earliest paid conversion, purchase or renewal, else the earliest unpaid one, else
// the earliest known event. The outer query then returns their full history up to the
// cutoff, ordered for the grouper.
const eventsQuery = `
	SELECT
		user_id, product_id, event_type, timestamp, revenue, currency,
		ad_id, adset_id, campaign_id, country, device, store, platform
	FROM attributed_events
	WHERE timestamp <= ?
	AND (user_id, product_id) IN (
		SELECT user_id, product_id
		FROM (
			SELECT
				user_id, product_id,
				multiIf(
					countIf(event_type = 'trial_started') > 0,
					minIf(timestamp, event_type = 'trial_started'),
					countIf(event_type IN ('trial_converted', 'initial_purchase', 'renewal') AND revenue > 0) > 0,
					minIf(timestamp, event_type IN ('trial_converted', 'initial_purchase', 'renewal') AND revenue > 0),
					countIf(event_type IN ('trial_converted', 'initial_purchase', 'renewal')) > 0,
					minIf(timestamp, event_type IN ('trial_converted', 'initial_purchase', 'renewal')),
					min(timestamp)
				) AS anchor
			FROM attributed_events
			WHERE timestamp <= ?
			AND toUnixTimestamp(timestamp) > 0
			AND event_type IN ('trial_started', 'trial_converted', 'trial_cancelled',
				'initial_purchase', 'renewal', 'cancellation')
			GROUP BY user_id, product_id
		)
		WHERE anchor >= ? AND anchor < ?
	)
	ORDER BY user_id, product_id, timestamp
`

// farFuture stands in for "no cutoff".
var farFuture = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)

type ClickHouseEvents struct {
	conn  driver.Conn
	retry Retry
	log   *logger.Logger
}

func NewClickHouseEvents(conn driver.Conn, retry Retry, log *logger.Logger) *ClickHouseEvents {
	return &ClickHouseEvents{conn: conn, retry: retry, log: log}
}

func (s *ClickHouseEvents) StreamEvents(ctx context.Context, w Window, fn func(models.RawEvent) error) error {
	cutoff := w.AsOf
	if cutoff.IsZero() {
		cutoff = farFuture
	}

	var rows driver.Rows
	err := s.retry.Do(ctx, func() error {
		var err error
		rows, err = s.conn.Query(ctx, eventsQuery, cutoff, cutoff, models.Day(w.From), w.End())
		if err != nil {
			s.log.Warn("event query failed", "from", w.From, "to", w.To, "error", err)
		}
		return err
	})
	if err != nil {
		return ierr.WithError(err).
			WithHintf("querying attributed events for %s..%s", w.From.Format("2006-01-02"), w.To.Format("2006-01-02")).
			Mark(ierr.ErrEventSourceUnavailable)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev      models.RawEvent
			kind    string
			revenue decimal.Decimal
		)
		if err := rows.Scan(
			&ev.UserID, &ev.ProductID, &kind, &ev.Timestamp, &revenue, &ev.Currency,
			&ev.Attribution.AdID, &ev.Attribution.AdsetID, &ev.Attribution.CampaignID,
			&ev.Dimensions.Country, &ev.Dimensions.Device, &ev.Dimensions.Store, &ev.Dimensions.Platform,
		); err != nil {
			return ierr.WithError(err).WithHint("scanning attributed event").Mark(ierr.ErrEventSourceUnavailable)
		}
		ev.Kind = models.EventKind(kind)
		ev.Revenue = revenue
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return ierr.WithError(err).WithHint("reading attributed events").Mark(ierr.ErrEventSourceUnavailable)
	}
	return nil
}
