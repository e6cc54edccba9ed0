package source

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/models"
)

// Querier is satisfied by *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const performanceQuery = `
	SELECT date, ad_id, COALESCE(adset_id, ''), COALESCE(campaign_id, ''),
	       COALESCE(breakdown_type, ''), COALESCE(breakdown_value, ''), spend::text, impressions, clicks, platform_trials, platform_purchases
	FROM ad_performance
	WHERE date >= $1 AND date <= $2
	ORDER BY date, ad_id, breakdown_type, breakdown_value`

const hierarchyQuery = `
	SELECT entity_type, entity_id, COALESCE(name, ''), COALESCE(parent_id, '')
	FROM ad_entities
	ORDER BY entity_type, entity_id`

type Postgres struct {
	db    Querier
	retry Retry
	log   *logger.Logger
}

func NewPostgres(db Querier, retry Retry, log *logger.Logger) *Postgres {
	return &Postgres{db: db, retry: retry, log: log}
}

func (s *Postgres) LoadPerformance(ctx context.Context, w Window) ([]models.AdPerformance, error) {
	var out []models.AdPerformance
	err := s.retry.Do(ctx, func() error {
		out = out[:0]
		rows, err := s.db.Query(ctx, performanceQuery, models.Day(w.From), models.Day(w.To))
		if err != nil {
			s.log.Warn("performance query failed", "error", err)
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				p     models.AdPerformance
				spend string
			)
			if err := rows.Scan(&p.Date, &p.AdID, &p.AdsetID, &p.CampaignID, &p.Breakdown.Type, &p.Breakdown.Value,
				&spend, &p.Impressions, &p.Clicks, &p.PlatformTrials, &p.PlatformPurchase); err != nil {
				return Permanent(err)
			}
			p.Spend, err = decimal.NewFromString(spend)
			if err != nil {
				return Permanent(err)
			}
			out = append(out, normalizePerformance(p))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("advertising performance could not be loaded").
			Mark(ierr.ErrReferenceSourceUnavailable)
	}
	return out, nil
}

func (s *Postgres) LoadHierarchy(ctx context.Context) (models.Hierarchy, error) {
	var h models.Hierarchy
	err := s.retry.Do(ctx, func() error {
		h = models.Hierarchy{Names: map[models.EntityRef]string{}}
		rows, err := s.db.Query(ctx, hierarchyQuery)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var typ, id, name, parent string
			if err := rows.Scan(&typ, &id, &name, &parent); err != nil {
				return Permanent(err)
			}
			addEntity(&h, typ, id, name, parent, s.log)
		}
		return rows.Err()
	})
	if err != nil {
		return models.Hierarchy{}, ierr.WithError(err).
			WithHint("entity hierarchy could not be loaded").
			Mark(ierr.ErrReferenceSourceUnavailable)
	}
	return h, nil
}

// addEntity records a name and, when present, the edge to the next level up.
func addEntity(h *models.Hierarchy, typ, id, name, parent string, log *logger.Logger) {
	t, err := models.ParseEntityType(coalesce(typ, ""))
	if err != nil || coalesce(id, "") == "" {
		log.Warn("skipping hierarchy row", "type", typ, "id", id)
		return
	}
	ref := models.EntityRef{Type: t, ID: coalesce(id, "")}
	if n := coalesce(name, ""); n != "" {
		h.Names[ref] = n
	}
	pt, ok := t.Parent()
	if p := coalesce(parent, ""); ok && p != "" {
		h.Edges = append(h.Edges, models.HierarchyEdge{Child: ref, Parent: models.EntityRef{Type: pt, ID: p}})
	}
}
