package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// SQLiteRepository implements all repositories using SQLite
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping verifies database connectivity (used by health probes).
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations runs database migrations
func (r *SQLiteRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

// snapshotRow maps a metric_snapshots row; metadata is JSON text.
type snapshotRow struct {
	ID            string    `db:"id"`
	EntityID      string    `db:"entity_id"`
	Timestamp     time.Time `db:"timestamp"`
	OperationKind string    `db:"operation_kind"`
	Success       bool      `db:"success"`
	LatencyMs     float64   `db:"latency_ms"`
	QualityScore  *float64  `db:"quality_score"`
	Cost          *float64  `db:"cost"`
	ErrorKind     string    `db:"error_kind"`
	Metadata      string    `db:"metadata"`
	CreatedAt     time.Time `db:"created_at"`
}

func (row *snapshotRow) toModel() (*models.MetricSnapshot, error) {
	s := &models.MetricSnapshot{
		ID:            row.ID,
		EntityID:      row.EntityID,
		Timestamp:     row.Timestamp,
		OperationKind: models.OperationKind(row.OperationKind),
		Success:       row.Success,
		LatencyMs:     row.LatencyMs,
		QualityScore:  row.QualityScore,
		Cost:          row.Cost,
		ErrorKind:     models.ErrorKind(row.ErrorKind),
	}
	if row.Metadata != "" && row.Metadata != "{}" {
		if err := json.Unmarshal([]byte(row.Metadata), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode snapshot metadata: %w", err)
		}
	}
	return s, nil
}

// SnapshotRepository implementation

func (r *SQLiteRepository) InsertSnapshots(ctx context.Context, snapshots []*models.MetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot batch: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	query := `
		INSERT INTO metric_snapshots (id, entity_id, timestamp, operation_kind, success, latency_ms, quality_score, cost, error_kind, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range snapshots {
		id := s.ID
		if id == "" {
			id = uuid.New().String()
		}
		metadata := "{}"
		if len(s.Metadata) > 0 {
			raw, mErr := json.Marshal(s.Metadata)
			if mErr != nil {
				return fmt.Errorf("encode snapshot metadata: %w", mErr)
			}
			metadata = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			id,
			s.EntityID,
			s.Timestamp.UTC(),
			string(s.OperationKind),
			s.Success,
			s.LatencyMs,
			s.QualityScore,
			s.Cost,
			string(s.ErrorKind),
			metadata,
			now,
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListSnapshots(ctx context.Context, entityID string, from, to time.Time) ([]*models.MetricSnapshot, error) {
	var rows []snapshotRow
	query := `
		SELECT * FROM metric_snapshots
		WHERE entity_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`
	if err := r.db.SelectContext(ctx, &rows, query, entityID, from.UTC(), to.UTC()); err != nil {
		return nil, err
	}

	snapshots := make([]*models.MetricSnapshot, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func (r *SQLiteRepository) ListEntityIDs(ctx context.Context, from, to time.Time) ([]string, error) {
	var ids []string
	query := `
		SELECT DISTINCT entity_id FROM metric_snapshots
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY entity_id
	`
	err := r.db.SelectContext(ctx, &ids, query, from.UTC(), to.UTC())
	return ids, err
}

// AlertRuleRepository implementation

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO alert_rules (id, name, metric, threshold_kind, operator, value, count, window_minutes, severity, security, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		string(rule.Metric),
		string(rule.Kind),
		string(rule.Operator),
		rule.Value,
		rule.Count,
		rule.WindowMinutes,
		string(rule.Severity),
		rule.Security,
		rule.Enabled,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

func (r *SQLiteRepository) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	query := `SELECT * FROM alert_rules WHERE id = ?`

	err := r.db.GetContext(ctx, &rule, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert rule not found: %s", id)
	}
	return &rule, err
}

func (r *SQLiteRepository) ListRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	query := `SELECT * FROM alert_rules ORDER BY created_at ASC`
	if enabledOnly {
		query = `SELECT * FROM alert_rules WHERE enabled = 1 ORDER BY created_at ASC`
	}

	err := r.db.SelectContext(ctx, &rules, query)
	return rules, err
}

func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE alert_rules
		SET name = ?, metric = ?, threshold_kind = ?, operator = ?, value = ?, count = ?, window_minutes = ?, severity = ?, security = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		rule.Name,
		string(rule.Metric),
		string(rule.Kind),
		string(rule.Operator),
		rule.Value,
		rule.Count,
		rule.WindowMinutes,
		string(rule.Severity),
		rule.Security,
		rule.Enabled,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert rule not found: %s", rule.ID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert rule not found: %s", id)
	}
	return nil
}

// AlertEventRepository implementation

func (r *SQLiteRepository) CreateEvent(ctx context.Context, event *models.AlertEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Status == "" {
		event.Status = models.AlertActive
	}

	query := `
		INSERT INTO alert_events (id, rule_id, rule_name, metric, severity, entity_id, triggered_at, current_value, threshold, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.RuleID,
		event.RuleName,
		string(event.Metric),
		string(event.Severity),
		event.EntityID,
		event.TriggeredAt.UTC(),
		event.CurrentValue,
		event.Threshold,
		string(event.Status),
	)
	return err
}

func (r *SQLiteRepository) GetEvent(ctx context.Context, id string) (*models.AlertEvent, error) {
	var event models.AlertEvent
	query := `SELECT * FROM alert_events WHERE id = ?`

	err := r.db.GetContext(ctx, &event, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert event not found: %s", id)
	}
	return &event, err
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, status models.AlertStatus, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []*models.AlertEvent
	var err error
	if status == "" {
		query := `SELECT * FROM alert_events ORDER BY triggered_at DESC LIMIT ?`
		err = r.db.SelectContext(ctx, &events, query, limit)
	} else {
		query := `SELECT * FROM alert_events WHERE status = ? ORDER BY triggered_at DESC LIMIT ?`
		err = r.db.SelectContext(ctx, &events, query, string(status), limit)
	}
	return events, err
}

func (r *SQLiteRepository) OpenEventForRule(ctx context.Context, ruleID, entityID string) (*models.AlertEvent, error) {
	var event models.AlertEvent
	query := `
		SELECT * FROM alert_events
		WHERE rule_id = ? AND entity_id = ? AND status IN ('active', 'acknowledged')
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &event, query, ruleID, entityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *SQLiteRepository) TransitionEvent(ctx context.Context, id string, from, to models.AlertStatus, by, notes string, at time.Time) (bool, error) {
	at = at.UTC()

	var query string
	var args []interface{}
	switch to {
	case models.AlertAcknowledged:
		query = `
			UPDATE alert_events
			SET status = ?, acknowledged_by = ?, acknowledged_at = ?
			WHERE id = ? AND status = ?
		`
		args = []interface{}{string(to), by, at, id, string(from)}
	case models.AlertResolved:
		query = `
			UPDATE alert_events
			SET status = ?, resolved_by = ?, resolved_at = ?, resolution_notes = ?
			WHERE id = ? AND status = ?
		`
		args = []interface{}{string(to), by, at, notes, id, string(from)}
	default:
		return false, fmt.Errorf("unsupported transition target: %s", to)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) CreateEscalation(ctx context.Context, esc *models.Escalation) error {
	if esc.ID == "" {
		esc.ID = uuid.New().String()
	}
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alert_escalations (id, event_id, channel, note, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, esc.ID, esc.EventID, esc.Channel, esc.Note, esc.CreatedAt)
	return err
}

func (r *SQLiteRepository) ListEscalations(ctx context.Context, eventID string) ([]*models.Escalation, error) {
	var escalations []*models.Escalation
	query := `SELECT * FROM alert_escalations WHERE event_id = ? ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &escalations, query, eventID)
	return escalations, err
}

// BlockRepository implementation

func (r *SQLiteRepository) CreateBlock(ctx context.Context, block *models.EntityBlock) error {
	if block.ID == "" {
		block.ID = uuid.New().String()
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entity_blocks (id, entity_id, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, block.ID, block.EntityID, block.Reason, block.CreatedAt, block.ExpiresAt.UTC())
	return err
}

func (r *SQLiteRepository) ActiveBlock(ctx context.Context, entityID string, now time.Time) (*models.EntityBlock, error) {
	var block models.EntityBlock
	query := `
		SELECT * FROM entity_blocks
		WHERE entity_id = ? AND expires_at > ?
		ORDER BY expires_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &block, query, entityID, now.UTC())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *SQLiteRepository) ListActiveBlocks(ctx context.Context, now time.Time) ([]*models.EntityBlock, error) {
	var blocks []*models.EntityBlock
	query := `SELECT * FROM entity_blocks WHERE expires_at > ? ORDER BY expires_at DESC`

	err := r.db.SelectContext(ctx, &blocks, query, now.UTC())
	return blocks, err
}

func (r *SQLiteRepository) ExpireBlocks(ctx context.Context, entityID string, now time.Time) (int, error) {
	query := `UPDATE entity_blocks SET expires_at = ? WHERE entity_id = ? AND expires_at > ?`
	res, err := r.db.ExecContext(ctx, query, now.UTC(), entityID, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
