package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a detected schema change.
type ChangeKind string

const (
	ChangeAddition     ChangeKind = "addition"
	ChangeModification ChangeKind = "modification"
	ChangeRemoval      ChangeKind = "removal"
)

// ChangeImpact rates how disruptive a change is to consumers.
type ChangeImpact string

const (
	ImpactBreaking            ChangeImpact = "breaking"
	ImpactPotentiallyBreaking ChangeImpact = "potentially_breaking"
	ImpactNonBreaking         ChangeImpact = "non_breaking"
)

// SchemaChange is one detected difference between two schema snapshots.
// Removals are always breaking; additions and modifications default to
// potentially breaking.
type SchemaChange struct {
	ID           uuid.UUID     `json:"id"`
	ConnectionID uuid.UUID     `json:"connection_id"`
	Kind         ChangeKind    `json:"kind"`
	TargetKind   ObjectKind    `json:"target_kind"`
	Identifier   string        `json:"identifier"`
	Old          *SchemaObject `json:"old,omitempty"`
	New          *SchemaObject `json:"new,omitempty"`
	Impact       ChangeImpact  `json:"impact"`
	Details      []string      `json:"details,omitempty"`
	DetectedAt   time.Time     `json:"detected_at"`
	Reviewed     bool          `json:"reviewed"`
}

// MaxConsecutiveJobErrors is the failure count after which a change
// detection job is unregistered.
const MaxConsecutiveJobErrors = 5

// ChangeDetectionJob is the scheduler's per-connection state.
type ChangeDetectionJob struct {
	ConnectionID      uuid.UUID `json:"connection_id"`
	OwnerUserID       string    `json:"owner_user_id"`
	LastChecked       time.Time `json:"last_checked"`
	LastHash          string    `json:"last_hash"`
	Checks            int       `json:"checks"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}
