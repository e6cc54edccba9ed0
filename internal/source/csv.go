package source

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/models"
)

// Fixture file names inside the CSV directory.
const (
	EventsFile      = "events.csv"
	PerformanceFile = "performance.csv"
	EntitiesFile    = "entities.csv"
)

type eventRow struct {
	UserID     string `csv:"user_id"`
	ProductID  string `csv:"product_id"`
	Event      string `csv:"event"`
	Timestamp  string `csv:"timestamp"`
	Revenue    string `csv:"revenue"`
	Currency   string `csv:"currency"`
	AdID       string `csv:"ad_id"`
	AdsetID    string `csv:"adset_id"`
	CampaignID string `csv:"campaign_id"`
	Country    string `csv:"country"`
	Device     string `csv:"device"`
	Store      string `csv:"store"`
	Platform   string `csv:"platform"`
}

type performanceRow struct {
	Date              string `csv:"date"`
	AdID              string `csv:"ad_id"`
	AdsetID           string `csv:"adset_id"`
	CampaignID        string `csv:"campaign_id"`
	BreakdownType     string `csv:"breakdown_type"`
	BreakdownValue    string `csv:"breakdown_value"`
	Spend             string `csv:"spend"`
	Impressions       string `csv:"impressions"`
	Clicks            string `csv:"clicks"`
	PlatformTrials    string `csv:"platform_trials"`
	PlatformPurchases string `csv:"platform_purchases"`
}

type entityRow struct {
	EntityType string `csv:"entity_type"`
	EntityID   string `csv:"entity_id"`
	Name       string `csv:"name"`
	ParentID   string `csv:"parent_id"`
}

// LoadCSV reads the three fixture files from dir into a Memory source. The entities
// file is optional. Fixture rows that do not parse fail the load with the line number.
func LoadCSV(dir string, log *logger.Logger) (*Memory, error) {
	m := &Memory{Hierarchy: models.Hierarchy{Names: map[models.EntityRef]string{}}}

	var events []*eventRow
	if err := readCSV(filepath.Join(dir, EventsFile), &events); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrEventSourceUnavailable)
	}
	for i, r := range events {
		ev, err := r.toEvent()
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("%s line %d", EventsFile, i+2).
				Mark(ierr.ErrEventSourceUnavailable)
		}
		m.Events = append(m.Events, ev)
	}

	var perf []*performanceRow
	if err := readCSV(filepath.Join(dir, PerformanceFile), &perf); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrReferenceSourceUnavailable)
	}
	for i, r := range perf {
		p, err := r.toPerformance()
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("%s line %d", PerformanceFile, i+2).
				Mark(ierr.ErrReferenceSourceUnavailable)
		}
		m.Performance = append(m.Performance, p)
	}

	var entities []*entityRow
	path := filepath.Join(dir, EntitiesFile)
	if _, err := os.Stat(path); err == nil {
		if err := readCSV(path, &entities); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrReferenceSourceUnavailable)
		}
	}
	for _, r := range entities {
		addEntity(&m.Hierarchy, r.EntityType, r.EntityID, r.Name, r.ParentID, log)
	}

	log.Info("loaded csv fixtures", "dir", dir, "events", len(m.Events),
		"performance_rows", len(m.Performance), "edges", len(m.Hierarchy.Edges))
	return m, nil
}

func readCSV(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return ierr.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	if err := gocsv.UnmarshalFile(f, out); err != nil {
		return ierr.Wrapf(err, "parse %s", path)
	}
	return nil
}

func (r *eventRow) toEvent() (models.RawEvent, error) {
	ts, err := time.Parse(time.RFC3339, coalesce(r.Timestamp, ""))
	if err != nil {
		return models.RawEvent{}, ierr.Wrapf(err, "timestamp %q", r.Timestamp)
	}
	revenue, err := parseDecimal(r.Revenue)
	if err != nil {
		return models.RawEvent{}, err
	}
	return models.RawEvent{
		UserID:      r.UserID,
		ProductID:   r.ProductID,
		Kind:        models.EventKind(r.Event),
		Timestamp:   ts,
		Revenue:     revenue,
		Currency:    r.Currency,
		Attribution: models.Attribution{AdID: r.AdID, AdsetID: r.AdsetID, CampaignID: r.CampaignID},
		Dimensions:  models.Dimensions{Country: r.Country, Device: r.Device, Store: r.Store, Platform: r.Platform},
	}, nil
}

func (r *performanceRow) toPerformance() (models.AdPerformance, error) {
	d, err := time.Parse("2006-01-02", coalesce(r.Date, ""))
	if err != nil {
		return models.AdPerformance{}, ierr.Wrapf(err, "date %q", r.Date)
	}
	spend, err := parseDecimal(r.Spend)
	if err != nil {
		return models.AdPerformance{}, err
	}
	p := models.AdPerformance{
		Date:       d,
		AdID:       r.AdID,
		AdsetID:    r.AdsetID,
		CampaignID: r.CampaignID,
		Breakdown:  models.Breakdown{Type: r.BreakdownType, Value: r.BreakdownValue},
		Spend:      spend,
	}
	counts := []struct {
		raw string
		dst *int64
	}{
		{r.Impressions, &p.Impressions},
		{r.Clicks, &p.Clicks},
		{r.PlatformTrials, &p.PlatformTrials},
		{r.PlatformPurchases, &p.PlatformPurchase},
	}
	for _, c := range counts {
		n, err := strconv.ParseInt(coalesce(c.raw, "0"), 10, 64)
		if err != nil {
			return models.AdPerformance{}, ierr.Wrapf(err, "count %q", c.raw)
		}
		*c.dst = n
	}
	return normalizePerformance(p), nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(coalesce(s, "0"))
	if err != nil {
		return decimal.Zero, ierr.Wrapf(err, "amount %q", s)
	}
	return d, nil
}
