// Package services holds the platform's domain logic: the connection
// registry, tester, schema discovery, cache, and change detection.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/audit"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/crypto"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
)

// RequestMeta carries the caller identity attached to audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Registry owns the connection lifecycle: validation, secret sealing,
// uniqueness, per-user caps, pool invalidation, and auditing.
type Registry struct {
	repo       repositories.ConnectionRepository
	vault      *crypto.Vault
	pools      *datasource.PoolManager
	auditor    *audit.Recorder
	logger     *zap.Logger
	maxPerUser int
}

// NewRegistry creates the registry. maxPerUser <= 0 falls back to 10.
func NewRegistry(repo repositories.ConnectionRepository, vault *crypto.Vault, pools *datasource.PoolManager, auditor *audit.Recorder, maxPerUser int, logger *zap.Logger) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Registry{
		repo:       repo,
		vault:      vault,
		pools:      pools,
		auditor:    auditor,
		logger:     logger.Named("registry"),
		maxPerUser: maxPerUser,
	}
}

// CreateInput is the write shape for Create and Update. Secret is the
// plaintext credential; it is sealed before anything else sees it.
type CreateInput struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Dialect     models.Dialect    `json:"dialect"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Database    string            `json:"database"`
	Username    string            `json:"username"`
	Secret      string            `json:"secret"`
	TLSEnabled  bool              `json:"tls_enabled"`
	TLSMaterial *string           `json:"tls_material,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
	Pool        models.PoolHints  `json:"pool"`
	TeamID      *string           `json:"team_id,omitempty"`
}

// Create registers a new connection for the caller.
func (s *Registry) Create(ctx context.Context, ac *models.AuthContext, in *CreateInput, meta RequestMeta) (*models.ConnectionConfig, error) {
	conn := &models.ConnectionConfig{
		OwnerUserID: ac.UserID,
		TeamID:      in.TeamID,
		Name:        in.Name,
		Description: in.Description,
		Dialect:     in.Dialect,
		Host:        in.Host,
		Port:        in.Port,
		Database:    in.Database,
		Username:    in.Username,
		TLSEnabled:  in.TLSEnabled,
		TLSMaterial: in.TLSMaterial,
		Options:     in.Options,
		Pool:        in.Pool,
		Status:      models.StatusInactive,
	}
	if err := conn.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err.Error(), err)
	}

	count, err := s.repo.CountByOwner(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	if count >= s.maxPerUser {
		return nil, apperrors.Wrap(apperrors.KindConflict,
			fmt.Sprintf("connection limit of %d reached", s.maxPerUser),
			apperrors.ErrConnectionLimit)
	}

	if in.Secret != "" {
		blob, err := s.vault.Seal(in.Secret)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindCrypto, "failed to seal credentials", err)
		}
		conn.SecretBlob = blob
	}

	if err := s.repo.Create(ctx, conn); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.Wrap(apperrors.KindConflict,
				fmt.Sprintf("a connection named %q already exists", in.Name), err)
		}
		return nil, err
	}

	s.record(ctx, conn.ID, models.AuditCreated, ac.UserID, meta, map[string]any{
		"name":    conn.Name,
		"dialect": string(conn.Dialect),
	})
	s.logger.Info("connection created",
		zap.String("connection_id", conn.ID.String()),
		zap.String("owner", conn.OwnerUserID),
		zap.String("dialect", string(conn.Dialect)),
	)
	conn.SecretBlob = ""
	return conn, nil
}

// Get returns a connection the caller may read. The secret blob is never
// included.
func (s *Registry) Get(ctx context.Context, ac *models.AuthContext, id uuid.UUID) (*models.ConnectionConfig, error) {
	conn, err := s.authorized(ctx, ac, id)
	if err != nil {
		return nil, err
	}
	conn.SecretBlob = ""
	return conn, nil
}

// ResolveDecrypted returns the config with the plaintext credential for
// internal use by the tester and discoverer. Never exposed over HTTP.
func (s *Registry) ResolveDecrypted(ctx context.Context, ac *models.AuthContext, id uuid.UUID) (*models.ConnectionConfig, string, error) {
	conn, err := s.authorized(ctx, ac, id)
	if err != nil {
		return nil, "", err
	}
	secret, err := s.openSecret(conn)
	if err != nil {
		return nil, "", err
	}
	conn.SecretBlob = ""
	return conn, secret, nil
}

// List returns the caller's connections, never crossing owners unless the
// filter asks for the caller's own team.
func (s *Registry) List(ctx context.Context, ac *models.AuthContext, filter repositories.ConnectionFilter) ([]*models.ConnectionConfig, error) {
	if filter.TeamID != "" {
		if ac.TeamID == nil || *ac.TeamID != filter.TeamID {
			return nil, apperrors.New(apperrors.KindAuthorization, "not a member of the requested team")
		}
		filter.OwnerUserID = ""
	} else {
		filter.OwnerUserID = ac.UserID
	}
	return s.repo.List(ctx, filter)
}

// UpdateInput is the partial-update shape; nil fields are untouched.
type UpdateInput struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Host        *string            `json:"host,omitempty"`
	Port        *int               `json:"port,omitempty"`
	Database    *string            `json:"database,omitempty"`
	Username    *string            `json:"username,omitempty"`
	Secret      *string            `json:"secret,omitempty"`
	TLSEnabled  *bool              `json:"tls_enabled,omitempty"`
	TLSMaterial *string            `json:"tls_material,omitempty"`
	Options     *map[string]string `json:"options,omitempty"`
	Pool        *models.PoolHints  `json:"pool,omitempty"`
	Status      *models.ConnectionStatus `json:"status,omitempty"`
}

// Update applies a partial update. A target or credential change drops the
// connection's pools so the next borrow re-opens against the new target.
func (s *Registry) Update(ctx context.Context, ac *models.AuthContext, id uuid.UUID, in *UpdateInput, meta RequestMeta) (*models.ConnectionConfig, error) {
	conn, err := s.authorized(ctx, ac, id)
	if err != nil {
		return nil, err
	}
	before := *conn

	if in.Name != nil {
		conn.Name = *in.Name
	}
	if in.Description != nil {
		conn.Description = *in.Description
	}
	if in.Host != nil {
		conn.Host = *in.Host
	}
	if in.Port != nil {
		conn.Port = *in.Port
	}
	if in.Database != nil {
		conn.Database = *in.Database
	}
	if in.Username != nil {
		conn.Username = *in.Username
	}
	if in.TLSEnabled != nil {
		conn.TLSEnabled = *in.TLSEnabled
	}
	if in.TLSMaterial != nil {
		conn.TLSMaterial = in.TLSMaterial
	}
	if in.Options != nil {
		conn.Options = *in.Options
	}
	if in.Pool != nil {
		conn.Pool = *in.Pool
	}
	if in.Status != nil {
		conn.Status = *in.Status
	}
	if err := conn.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err.Error(), err)
	}

	credentialChange := in.Secret != nil
	if credentialChange {
		if *in.Secret == "" {
			conn.SecretBlob = ""
		} else {
			blob, err := s.vault.Seal(*in.Secret)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.KindCrypto, "failed to seal credentials", err)
			}
			conn.SecretBlob = blob
		}
	} else {
		// Repository keeps the existing secret when the blob is empty.
		conn.SecretBlob = ""
	}

	if err := s.repo.Update(ctx, conn); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.Wrap(apperrors.KindConflict,
				fmt.Sprintf("a connection named %q already exists", conn.Name), err)
		}
		return nil, err
	}

	if credentialChange || !conn.TargetEquals(&before) {
		s.pools.Drop(conn.ID)
	}

	s.record(ctx, conn.ID, models.AuditUpdated, ac.UserID, meta, map[string]any{
		"target_changed":     !conn.TargetEquals(&before),
		"credential_changed": credentialChange,
	})
	conn.SecretBlob = ""
	return conn, nil
}

// Delete removes a connection, dropping its pools first.
func (s *Registry) Delete(ctx context.Context, ac *models.AuthContext, id uuid.UUID, meta RequestMeta) error {
	conn, err := s.authorized(ctx, ac, id)
	if err != nil {
		return err
	}

	s.pools.Drop(id)
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.record(ctx, id, models.AuditDeleted, ac.UserID, meta, map[string]any{
		"name": conn.Name,
	})
	s.logger.Info("connection deleted",
		zap.String("connection_id", id.String()),
		zap.String("owner", conn.OwnerUserID),
	)
	return nil
}

// MarkTested records a probe outcome on the connection row.
func (s *Registry) MarkTested(ctx context.Context, id uuid.UUID, healthy bool, testedAt time.Time) error {
	status := models.StatusActive
	if !healthy {
		status = models.StatusError
	}
	return s.repo.UpdateStatus(ctx, id, status, &testedAt)
}

// Events returns the audit trail for a connection the caller can access.
func (s *Registry) Events(ctx context.Context, ac *models.AuthContext, id uuid.UUID, limit int) ([]*models.AuditEvent, error) {
	if _, err := s.authorized(ctx, ac, id); err != nil {
		return nil, err
	}
	return s.auditor.History(ctx, id, limit)
}

// Auditor exposes the recorder for collaborating services.
func (s *Registry) Auditor() *audit.Recorder { return s.auditor }

func (s *Registry) authorized(ctx context.Context, ac *models.AuthContext, id uuid.UUID) (*models.ConnectionConfig, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, "connection not found", err)
		}
		return nil, err
	}
	if !ac.CanAccess(conn.OwnerUserID, conn.TeamID) {
		// Hide existence from unauthorized callers.
		return nil, apperrors.New(apperrors.KindNotFound, "connection not found")
	}
	return conn, nil
}

func (s *Registry) openSecret(conn *models.ConnectionConfig) (string, error) {
	if conn.SecretBlob == "" {
		return "", nil
	}
	secret, err := s.vault.Open(conn.SecretBlob)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return "", apperrors.Wrap(apperrors.KindCrypto,
				"stored credentials cannot be decrypted", apperrors.ErrCredentialsMismatch)
		}
		return "", apperrors.Wrap(apperrors.KindCrypto, "failed to open credentials", err)
	}
	return secret, nil
}

func (s *Registry) record(ctx context.Context, connID uuid.UUID, action models.AuditAction, userID string, meta RequestMeta, payload map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, &models.AuditEvent{
		ConnectionID: connID,
		Action:       action,
		UserID:       userID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	})
}
