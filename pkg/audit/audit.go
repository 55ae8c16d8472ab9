// Package audit records the connection audit trail: every mutation and
// test is logged and, when a repository is configured, persisted.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
)

// Recorder writes audit events. Persistence failures are logged and
// swallowed so an audit outage never fails the operation being audited.
type Recorder struct {
	repo   repositories.EventRepository
	logger *zap.Logger
}

// NewRecorder creates a recorder. repo may be nil for log-only auditing.
func NewRecorder(repo repositories.EventRepository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger.Named("audit")}
}

// Record logs and persists one audit event.
func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("connection_id", event.ConnectionID.String()),
		zap.String("action", string(event.Action)),
		zap.String("user_id", event.UserID),
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	r.logger.Info("connection audit event", fields...)

	if r.repo == nil {
		return
	}
	if err := r.repo.Insert(ctx, event); err != nil {
		r.logger.Warn("failed to persist audit event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}
}

// History returns the most recent events for a connection.
func (r *Recorder) History(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.AuditEvent, error) {
	if r.repo == nil {
		return nil, nil
	}
	return r.repo.ListByConnection(ctx, connectionID, limit)
}
