package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleSchema() *DatabaseSchema {
	return &DatabaseSchema{
		ConnectionID: uuid.New(),
		Objects: []SchemaObject{
			{
				Kind:   ObjectTable,
				Schema: "public",
				Name:   "orders",
				Columns: []Column{
					{Name: "id", Type: "integer", Ordinal: 1, Primary: true},
					{Name: "total", Type: "numeric", Ordinal: 2, Nullable: true},
				},
				Constraints: []Constraint{{Name: "orders_pkey", Type: "PRIMARY KEY", Columns: []string{"id"}}},
				Indexes:     []Index{{Name: "orders_pkey", Columns: []string{"id"}, Unique: true}},
			},
			{
				Kind:   ObjectTable,
				Schema: "public",
				Name:   "users",
				Columns: []Column{
					{Name: "id", Type: "integer", Ordinal: 1, Primary: true},
				},
			},
		},
		Relationships: []Relationship{
			{Name: "orders_user_fk", SourceSchema: "public", SourceTable: "orders", SourceColumn: "user_id",
				TargetSchema: "public", TargetTable: "users", TargetColumn: "id"},
		},
	}
}

func TestComputeVersionHash_Deterministic(t *testing.T) {
	s := sampleSchema()
	h1 := s.ComputeVersionHash()
	h2 := s.ComputeVersionHash()
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char sha256 hex, got %d chars", len(h1))
	}
}

func TestComputeVersionHash_StableAcrossReordering(t *testing.T) {
	a := sampleSchema()
	b := sampleSchema()
	// Reverse object order and column order in b.
	b.Objects[0], b.Objects[1] = b.Objects[1], b.Objects[0]
	b.Objects[1].Columns[0], b.Objects[1].Columns[1] = b.Objects[1].Columns[1], b.Objects[1].Columns[0]

	if a.ComputeVersionHash() != b.ComputeVersionHash() {
		t.Error("hash changed under reordering of objects and columns")
	}
}

func TestComputeVersionHash_IgnoresNonStructuralFields(t *testing.T) {
	a := sampleSchema()
	b := sampleSchema()
	b.ConnectionID = a.ConnectionID
	b.DiscoveredAt = time.Now().Add(time.Hour)
	b.Duration = 42 * time.Second
	b.Objects[0].Metadata = map[string]string{"row_count": "1000"}

	if a.ComputeVersionHash() != b.ComputeVersionHash() {
		t.Error("hash depends on timestamps, duration, or metadata")
	}
}

func TestComputeVersionHash_MovesWithStructure(t *testing.T) {
	a := sampleSchema()
	base := a.ComputeVersionHash()

	tests := []struct {
		name   string
		mutate func(*DatabaseSchema)
	}{
		{"column removed", func(s *DatabaseSchema) { s.Objects[0].Columns = s.Objects[0].Columns[:1] }},
		{"column retyped", func(s *DatabaseSchema) { s.Objects[0].Columns[1].Type = "text" }},
		{"nullability changed", func(s *DatabaseSchema) { s.Objects[0].Columns[1].Nullable = false }},
		{"object added", func(s *DatabaseSchema) {
			s.Objects = append(s.Objects, SchemaObject{Kind: ObjectView, Schema: "public", Name: "v_orders"})
		}},
		{"relationship dropped", func(s *DatabaseSchema) { s.Relationships = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSchema()
			tt.mutate(s)
			if s.ComputeVersionHash() == base {
				t.Errorf("hash did not change for %s", tt.name)
			}
		})
	}
}

func TestCountObjects(t *testing.T) {
	s := sampleSchema()
	s.Objects = append(s.Objects,
		SchemaObject{Kind: ObjectView, Schema: "public", Name: "v"},
		SchemaObject{Kind: ObjectFunction, Schema: "public", Name: "f"},
		SchemaObject{Kind: ObjectType, Schema: "public", Name: "t"},
	)
	s.CountObjects()
	if s.Counts.Tables != 2 || s.Counts.Views != 1 || s.Counts.Functions != 1 || s.Counts.Types != 1 {
		t.Errorf("unexpected counts: %+v", s.Counts)
	}
}
