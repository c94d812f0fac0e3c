package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_logs (
			id, created_at, account_id, target_id, target_name, type, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.AccountID, event.TargetID,
		event.TargetName, event.Type, event.Details,
	)
	if err != nil {
		return fmt.Errorf("create event log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEventLogs(ctx context.Context, accountID, targetID string, limit, offset int) ([]*models.EventLog, int64, error) {
	where := ` WHERE account_id = $1`
	args := []interface{}{accountID}
	if targetID != "" {
		where += ` AND target_id = $2`
		args = append(args, targetID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count event logs: %w", err)
	}

	query := `
		SELECT id, created_at, account_id, target_id, target_name, type, details
		FROM event_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		var ev models.EventLog
		err := rows.Scan(
			&ev.ID, &ev.CreatedAt, &ev.AccountID, &ev.TargetID,
			&ev.TargetName, &ev.Type, &ev.Details,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event log: %w", err)
		}
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}
