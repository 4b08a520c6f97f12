package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"moxie_companion/internal/models"
	"moxie_companion/internal/usage"
)

const usageColumns = `id, child_profile_id, session_id, feature, provider, model,
	input_tokens, output_tokens, tokens_used, estimated_cost, duration_seconds,
	was_successful, error_message, timestamp`

const insertUsageQuery = `
	INSERT INTO usage_records (` + usageColumns + `)
	VALUES (:id, :child_profile_id, :session_id, :feature, :provider, :model,
		:input_tokens, :output_tokens, :tokens_used, :estimated_cost, :duration_seconds,
		:was_successful, :error_message, :timestamp)
	ON CONFLICT (id) DO NOTHING
`

// UsageRepository stores usage records in PostgreSQL
type UsageRepository struct {
	db *DB
}

var _ usage.Repository = (*UsageRepository)(nil)

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts one record. Inserting an existing id is a no-op.
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	ctx, cancel := context.WithTimeout(ctx, r.db.queryTimeout)
	defer cancel()

	if _, err := r.db.conn.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in a single transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if _, err := tx.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves one record
func (r *UsageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.db.queryTimeout)
	defer cancel()

	var record models.UsageRecord
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE id = $1`
	if err := r.db.conn.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUsageRecordNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &record, nil
}

// List returns records matching filter, newest first
func (r *UsageRepository) List(ctx context.Context, filter usage.Filter) ([]models.UsageRecord, error) {
	query, args := buildListQuery(filter)

	ctx, cancel := context.WithTimeout(ctx, r.db.queryTimeout)
	defer cancel()

	records := []models.UsageRecord{}
	if err := r.db.conn.SelectContext(ctx, &records, r.db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes records timestamped before cutoff
func (r *UsageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.db.queryTimeout)
	defer cancel()

	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM usage_records WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage records: %w", err)
	}
	return res.RowsAffected()
}

// buildListQuery renders filter with '?' placeholders for sqlx.Rebind.
func buildListQuery(filter usage.Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)

	if filter.ChildID != "" {
		where = append(where, "child_profile_id = ?")
		args = append(args, filter.ChildID)
	}
	if filter.Feature != "" {
		where = append(where, "feature = ?")
		args = append(args, string(filter.Feature))
	}
	if !filter.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.To)
	}

	var b strings.Builder
	b.WriteString("SELECT " + usageColumns + " FROM usage_records")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY timestamp DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}
	return b.String(), args
}
