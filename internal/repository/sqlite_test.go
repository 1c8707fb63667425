package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	dbmigrations "github.com/opsdeck/opsdeck-backend/migrations"
)

func setupRepo(t *testing.T) (*SQLiteRepository, context.Context) {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "opsdeck_test.db")
	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("create sqlite repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	entries, err := dbmigrations.FS.ReadDir(".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sqlBytes, readErr := dbmigrations.FS.ReadFile(entry.Name())
		if readErr != nil {
			t.Fatalf("read migration %s: %v", entry.Name(), readErr)
		}
		if runErr := repo.RunMigrations(string(sqlBytes)); runErr != nil {
			t.Fatalf("run migration %s: %v", entry.Name(), runErr)
		}
	}

	return repo, ctx
}

func snapshotAt(entityID string, ts time.Time, success bool, latency float64) *models.MetricSnapshot {
	return &models.MetricSnapshot{
		EntityID:      entityID,
		Timestamp:     ts,
		OperationKind: models.OperationRequest,
		Success:       success,
		LatencyMs:     latency,
	}
}

func TestInsertAndListSnapshots(t *testing.T) {
	repo, ctx := setupRepo(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	quality := 8.5
	batch := []*models.MetricSnapshot{
		snapshotAt("provider-a", base, true, 120),
		snapshotAt("provider-a", base.Add(time.Minute), false, 900),
		snapshotAt("provider-b", base.Add(2*time.Minute), true, 80),
	}
	batch[0].QualityScore = &quality
	batch[0].Metadata = map[string]string{"region": "eu-west-1"}
	batch[1].ErrorKind = models.ErrorKindTimeout

	require.NoError(t, repo.InsertSnapshots(ctx, batch))

	got, err := repo.ListSnapshots(ctx, "provider-a", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ascending by timestamp
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	assert.True(t, got[0].Success)
	require.NotNil(t, got[0].QualityScore)
	assert.InDelta(t, 8.5, *got[0].QualityScore, 1e-9)
	assert.Equal(t, map[string]string{"region": "eu-west-1"}, got[0].Metadata)
	assert.Equal(t, models.ErrorKindTimeout, got[1].ErrorKind)

	// Window excludes the upper bound
	none, err := repo.ListSnapshots(ctx, "provider-a", base.Add(-time.Hour), base)
	require.NoError(t, err)
	assert.Empty(t, none)

	ids, err := repo.ListEntityIDs(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"provider-a", "provider-b"}, ids)
}

func TestAlertRuleCRUD(t *testing.T) {
	repo, ctx := setupRepo(t)

	rule := &models.AlertRule{
		Name:          "high error rate",
		Metric:        models.MetricErrorRate,
		Kind:          models.ThresholdValue,
		Operator:      models.OpGreaterThan,
		Value:         10,
		WindowMinutes: 15,
		Severity:      models.SeverityWarning,
		Enabled:       true,
	}
	require.NoError(t, repo.CreateRule(ctx, rule))
	require.NotEmpty(t, rule.ID)

	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "high error rate", got.Name)
	assert.Equal(t, models.ThresholdValue, got.Kind)
	assert.Equal(t, models.OpGreaterThan, got.Operator)

	got.Enabled = false
	got.Value = 20
	require.NoError(t, repo.UpdateRule(ctx, got))

	enabled, err := repo.ListRules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := repo.ListRules(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 20, all[0].Value, 1e-9)

	require.NoError(t, repo.DeleteRule(ctx, rule.ID))
	assert.Error(t, repo.DeleteRule(ctx, rule.ID))
}

func TestAlertEventLifecycle(t *testing.T) {
	repo, ctx := setupRepo(t)

	event := &models.AlertEvent{
		RuleID:       "rule-1",
		RuleName:     "high error rate",
		Metric:       models.MetricErrorRate,
		Severity:     models.SeverityCritical,
		EntityID:     "provider-a",
		TriggeredAt:  time.Now().UTC(),
		CurrentValue: 15,
		Threshold:    10,
	}
	require.NoError(t, repo.CreateEvent(ctx, event))

	open, err := repo.OpenEventForRule(ctx, "rule-1", "provider-a")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, models.AlertActive, open.Status)

	// active -> acknowledged
	ok, err := repo.TransitionEvent(ctx, event.ID, models.AlertActive, models.AlertAcknowledged, "admin-1", "", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Acknowledged events still count as open for deduplication
	open, err = repo.OpenEventForRule(ctx, "rule-1", "provider-a")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, models.AlertAcknowledged, open.Status)

	// A second acknowledge must not apply: the row is no longer active
	ok, err = repo.TransitionEvent(ctx, event.ID, models.AlertActive, models.AlertAcknowledged, "admin-2", "", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// acknowledged -> resolved
	ok, err = repo.TransitionEvent(ctx, event.ID, models.AlertAcknowledged, models.AlertResolved, "admin-1", "restarted provider", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	open, err = repo.OpenEventForRule(ctx, "rule-1", "provider-a")
	require.NoError(t, err)
	assert.Nil(t, open)

	got, err := repo.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, got.Status)
	assert.Equal(t, "admin-1", got.ResolvedBy)
	assert.Equal(t, "restarted provider", got.ResolutionNotes)
	require.NotNil(t, got.AcknowledgedAt)
	require.NotNil(t, got.ResolvedAt)

	active, err := repo.ListEvents(ctx, models.AlertActive, 10)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEscalationsAndBlocks(t *testing.T) {
	repo, ctx := setupRepo(t)

	event := &models.AlertEvent{
		RuleID:      "rule-sec",
		RuleName:    "rate limit abuse",
		Metric:      models.MetricRateLimitHits,
		Severity:    models.SeverityCritical,
		EntityID:    "account-7",
		TriggeredAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateEvent(ctx, event))

	require.NoError(t, repo.CreateEscalation(ctx, &models.Escalation{
		EventID: event.ID,
		Channel: "webhook",
		Note:    "critical alert escalated",
	}))

	escs, err := repo.ListEscalations(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, "webhook", escs[0].Channel)

	now := time.Now().UTC()
	require.NoError(t, repo.CreateBlock(ctx, &models.EntityBlock{
		EntityID:  "account-7",
		Reason:    "rate limit abuse",
		ExpiresAt: now.Add(30 * time.Minute),
	}))

	block, err := repo.ActiveBlock(ctx, "account-7", now)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, "rate limit abuse", block.Reason)

	// Expired blocks are inert
	expired, err := repo.ActiveBlock(ctx, "account-7", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, expired)

	blocks, err := repo.ListActiveBlocks(ctx, now)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	// Expiring ends the block immediately but keeps the row
	n, err := repo.ExpireBlocks(ctx, "account-7", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	block, err = repo.ActiveBlock(ctx, "account-7", now)
	require.NoError(t, err)
	assert.Nil(t, block)
}
