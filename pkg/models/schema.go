package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ObjectKind is the kind of a discovered schema object.
type ObjectKind string

const (
	ObjectTable    ObjectKind = "table"
	ObjectView     ObjectKind = "view"
	ObjectFunction ObjectKind = "function"
	ObjectType     ObjectKind = "type"
)

// Column describes a single column of a table or view.
type Column struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	Primary   bool    `json:"primary"`
	Foreign   bool    `json:"foreign"`
	Unique    bool    `json:"unique"`
	Ordinal   int     `json:"ordinal"`
	MaxLength *int    `json:"max_length,omitempty"`
	Precision *int    `json:"precision,omitempty"`
	Scale     *int    `json:"scale,omitempty"`
}

// Constraint describes a table constraint (primary key, foreign key,
// unique, check).
type Constraint struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Columns    []string `json:"columns,omitempty"`
	Definition string   `json:"definition,omitempty"`
}

// Index describes a table index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns,omitempty"`
	Unique  bool     `json:"unique"`
}

// SchemaObject is one discovered object (table, view, function, type).
type SchemaObject struct {
	Kind        ObjectKind        `json:"kind"`
	Schema      string            `json:"schema"`
	Name        string            `json:"name"`
	Columns     []Column          `json:"columns,omitempty"`
	Constraints []Constraint      `json:"constraints,omitempty"`
	Indexes     []Index           `json:"indexes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Identifier returns the "schema.name" key used for diffing and fan-out.
func (o *SchemaObject) Identifier() string {
	return o.Schema + "." + o.Name
}

// Relationship is a foreign-key edge between two tables.
type Relationship struct {
	Name         string `json:"name"`
	SourceSchema string `json:"source_schema"`
	SourceTable  string `json:"source_table"`
	SourceColumn string `json:"source_column"`
	TargetSchema string `json:"target_schema"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
}

// SchemaCounts summarizes a discovery result.
type SchemaCounts struct {
	Tables    int `json:"tables"`
	Views     int `json:"views"`
	Functions int `json:"functions"`
	Types     int `json:"types"`
}

// DatabaseSchema is a full snapshot of one connection's relational metadata.
type DatabaseSchema struct {
	ConnectionID  uuid.UUID      `json:"connection_id"`
	Objects       []SchemaObject `json:"objects"`
	Relationships []Relationship `json:"relationships"`
	DiscoveredAt  time.Time      `json:"discovered_at"`
	VersionHash   string         `json:"version_hash"`
	Duration      time.Duration  `json:"duration"`
	Counts        SchemaCounts   `json:"counts"`
}

// structural mirrors of the hashed subset. Metadata, timestamps, and
// durations are deliberately absent so the hash only moves when structure
// moves.
type structuralObject struct {
	Kind        ObjectKind   `json:"kind"`
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
}

type structuralSchema struct {
	Objects       []structuralObject `json:"objects"`
	Relationships []Relationship     `json:"relationships"`
}

// Canonicalize sorts objects, columns, constraints, indexes, and
// relationships into a deterministic order so the version hash is stable
// across discovery orderings.
func (s *DatabaseSchema) Canonicalize() {
	sort.Slice(s.Objects, func(i, j int) bool {
		a, b := &s.Objects[i], &s.Objects[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Name < b.Name
	})
	for i := range s.Objects {
		o := &s.Objects[i]
		sort.Slice(o.Columns, func(a, b int) bool { return o.Columns[a].Ordinal < o.Columns[b].Ordinal })
		sort.Slice(o.Constraints, func(a, b int) bool { return o.Constraints[a].Name < o.Constraints[b].Name })
		sort.Slice(o.Indexes, func(a, b int) bool { return o.Indexes[a].Name < o.Indexes[b].Name })
	}
	sort.Slice(s.Relationships, func(i, j int) bool {
		a, b := &s.Relationships[i], &s.Relationships[j]
		if a.SourceSchema != b.SourceSchema {
			return a.SourceSchema < b.SourceSchema
		}
		if a.SourceTable != b.SourceTable {
			return a.SourceTable < b.SourceTable
		}
		if a.TargetTable != b.TargetTable {
			return a.TargetTable < b.TargetTable
		}
		return a.Name < b.Name
	})
}

// ComputeVersionHash canonicalizes the schema and returns the SHA-256 hex
// digest of its structural subset. Two schemas with equal hashes are
// treated as semantically equal everywhere in the platform.
func (s *DatabaseSchema) ComputeVersionHash() string {
	s.Canonicalize()
	view := structuralSchema{
		Objects:       make([]structuralObject, len(s.Objects)),
		Relationships: s.Relationships,
	}
	for i, o := range s.Objects {
		view.Objects[i] = structuralObject{
			Kind:        o.Kind,
			Schema:      o.Schema,
			Name:        o.Name,
			Columns:     o.Columns,
			Constraints: o.Constraints,
			Indexes:     o.Indexes,
		}
	}
	h := sha256.New()
	// Marshaling plain structs never fails.
	data, _ := json.Marshal(view)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CountObjects recomputes Counts from the object list.
func (s *DatabaseSchema) CountObjects() {
	var c SchemaCounts
	for i := range s.Objects {
		switch s.Objects[i].Kind {
		case ObjectTable:
			c.Tables++
		case ObjectView:
			c.Views++
		case ObjectFunction:
			c.Functions++
		case ObjectType:
			c.Types++
		}
	}
	s.Counts = c
}
