package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"yakkl-background/internal/domain"
)

const maxRecentActivity = 500

// ActivityRepository implements domain.ActivityRepository for PostgreSQL
type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Record inserts the event, ignoring ids that were already stored
func (r *ActivityRepository) Record(ctx context.Context, event *domain.ActivityEvent) error {
	query := `
		INSERT INTO dapp_activity (id, request_id, method, category, domain, outcome, error_code, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.RequestID,
		event.Method,
		event.Category,
		event.Domain,
		event.Outcome,
		event.ErrorCode,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity %s: %w", event.ID, err)
	}
	return nil
}

// Recent returns the newest events for a domain, newest first
func (r *ActivityRepository) Recent(ctx context.Context, domainName string, limit int) ([]*domain.ActivityEvent, error) {
	if limit <= 0 || limit > maxRecentActivity {
		limit = maxRecentActivity
	}

	query := `
		SELECT id, request_id, method, category, domain, outcome, error_code, occurred_at
		FROM dapp_activity
		WHERE domain = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, domainName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.ActivityEvent
	for rows.Next() {
		event := &domain.ActivityEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.Method,
			&event.Category,
			&event.Domain,
			&event.Outcome,
			&event.ErrorCode,
			&event.OccurredAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
