package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelcm/admira-attribution/internal/config"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/pipeline"
	"github.com/angelcm/admira-attribution/internal/source"
	"github.com/angelcm/admira-attribution/internal/store"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestBuildFromCSV(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, source.EventsFile, `user_id,product_id,event,timestamp,revenue,currency,ad_id,adset_id,campaign_id,country,device,store,platform
u1,p1,initial_purchase,2025-08-01T10:00:00Z,59.99,USD,A1,S1,C1,US,ios,app_store,meta
`)
	write(t, dir, source.PerformanceFile, `date,ad_id,adset_id,campaign_id,breakdown_type,breakdown_value,spend,impressions,clicks,platform_trials,platform_purchases
2025-08-01,A1,S1,C1,,,20,1000,10,0,1
`)
	t.Setenv("ADMIRA_SOURCES_KIND", "csv")
	t.Setenv("ADMIRA_SOURCES_CSV_DIR", dir)
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := Build(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Ready(context.Background()))

	day := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	rep, err := a.Runner.Run(context.Background(), pipeline.Request{From: day, To: day, AsOf: day.AddDate(0, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSucceeded, rep.Status)
	assert.Equal(t, 3, rep.OverallRows)

	mem, ok := a.Store.(*store.MemoryStore)
	require.True(t, ok)
	gen, ok := mem.Current()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, gen.RunID)
}

func TestBuildRejectsMissingFixtures(t *testing.T) {
	t.Setenv("ADMIRA_SOURCES_KIND", "csv")
	t.Setenv("ADMIRA_SOURCES_CSV_DIR", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = Build(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}
