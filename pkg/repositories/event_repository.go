package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/database"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// EventRepository persists the connection audit trail.
type EventRepository interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
	ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.AuditEvent, error)
}

type eventRepository struct {
	db *database.DB
}

// NewEventRepository creates the pgx-backed audit event repository.
func NewEventRepository(db *database.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO connection_events (id, connection_id, action, user_id, ip, user_agent, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		event.ID, event.ConnectionID, event.Action, event.UserID,
		event.IP, event.UserAgent, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection event: %w", err)
	}
	return nil
}

func (r *eventRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, connection_id, action, user_id, ip, user_agent, payload, created_at
		FROM connection_events
		WHERE connection_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection events: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.ConnectionID, &event.Action, &event.UserID,
			&event.IP, &event.UserAgent, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}
