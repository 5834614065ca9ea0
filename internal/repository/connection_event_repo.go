package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remote-chat/backend/internal/model"
)

// DefaultListLimit caps journal queries that do not set a limit.
const DefaultListLimit = 100

// ConnectionEventRepository provides data access for the connection journal.
type ConnectionEventRepository struct {
	db *sql.DB
}

// NewConnectionEventRepository creates a new ConnectionEventRepository.
func NewConnectionEventRepository(db *sql.DB) *ConnectionEventRepository {
	return &ConnectionEventRepository{db: db}
}

// Record inserts a connection event and sets its ID.
func (r *ConnectionEventRepository) Record(ctx context.Context, event *model.ConnectionEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO connection_events (session_id, status, retry_count, close_code, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var closeCode sql.NullInt64
	if event.CloseCode != nil {
		closeCode = sql.NullInt64{Int64: int64(*event.CloseCode), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		event.SessionID,
		event.Status,
		event.RetryCount,
		closeCode,
		event.Reason,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record connection event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get connection event id: %w", err)
	}
	event.ID = id

	return nil
}

// ListBySession returns the most recent events of a session, newest first.
func (r *ConnectionEventRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.ConnectionEvent, error) {
	query := `
		SELECT id, session_id, status, retry_count, close_code, reason, created_at
		FROM connection_events
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	return r.query(ctx, query, sessionID, normalizeLimit(limit))
}

// ListRecent returns the most recent events across all sessions, newest first.
func (r *ConnectionEventRepository) ListRecent(ctx context.Context, limit int) ([]*model.ConnectionEvent, error) {
	query := `
		SELECT id, session_id, status, retry_count, close_code, reason, created_at
		FROM connection_events
		ORDER BY id DESC
		LIMIT ?
	`
	return r.query(ctx, query, normalizeLimit(limit))
}

func (r *ConnectionEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*model.ConnectionEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection events: %w", err)
	}
	defer rows.Close()

	var events []*model.ConnectionEvent
	for rows.Next() {
		event := &model.ConnectionEvent{}
		var closeCode sql.NullInt64
		var reason sql.NullString

		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Status,
			&event.RetryCount,
			&closeCode,
			&reason,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}

		if closeCode.Valid {
			code := int(closeCode.Int64)
			event.CloseCode = &code
		}
		if reason.Valid {
			event.Reason = reason.String
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection events: %w", err)
	}

	return events, nil
}

// Count returns the number of events recorded for a session.
func (r *ConnectionEventRepository) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connection_events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count connection events: %w", err)
	}
	return n, nil
}

// DeleteBefore removes events older than cutoff and returns how many were removed.
func (r *ConnectionEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connection_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune connection events: %w", err)
	}
	return result.RowsAffected()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
