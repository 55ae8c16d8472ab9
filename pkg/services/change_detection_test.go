package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
)

func table(name string, cols ...models.Column) models.SchemaObject {
	return models.SchemaObject{Kind: models.ObjectTable, Schema: "public", Name: name, Columns: cols}
}

func col(name, typ string) models.Column {
	return models.Column{Name: name, Type: typ, Nullable: true}
}

func snapshot(objects ...models.SchemaObject) *models.DatabaseSchema {
	return &models.DatabaseSchema{ConnectionID: uuid.Nil, Objects: objects}
}

func TestDiffSchemas_NilSnapshots(t *testing.T) {
	if got := DiffSchemas(nil, snapshot()); got != nil {
		t.Fatalf("expected nil changes without a baseline, got %d", len(got))
	}
	if got := DiffSchemas(snapshot(), nil); got != nil {
		t.Fatalf("expected nil changes without a target, got %d", len(got))
	}
}

func TestDiffSchemas_Addition(t *testing.T) {
	prev := snapshot(table("orders", col("id", "uuid")))
	next := snapshot(table("orders", col("id", "uuid")), table("invoices", col("id", "uuid")))

	changes := DiffSchemas(prev, next)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Kind != models.ChangeAddition {
		t.Errorf("kind = %q, want addition", c.Kind)
	}
	if c.Impact != models.ImpactPotentiallyBreaking {
		t.Errorf("impact = %q, want potentially_breaking", c.Impact)
	}
	if c.Identifier != "public.invoices" {
		t.Errorf("identifier = %q", c.Identifier)
	}
	if c.Old != nil || c.New == nil {
		t.Error("addition must carry only the new object")
	}
}

func TestDiffSchemas_RemovalIsBreaking(t *testing.T) {
	prev := snapshot(table("orders", col("id", "uuid")), table("legacy", col("id", "uuid")))
	next := snapshot(table("orders", col("id", "uuid")))

	changes := DiffSchemas(prev, next)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Kind != models.ChangeRemoval {
		t.Errorf("kind = %q, want removal", c.Kind)
	}
	if c.Impact != models.ImpactBreaking {
		t.Errorf("impact = %q, want breaking", c.Impact)
	}
	if c.Identifier != "public.legacy" {
		t.Errorf("identifier = %q", c.Identifier)
	}
}

func TestDiffSchemas_ColumnModifications(t *testing.T) {
	prev := snapshot(table("orders",
		col("id", "uuid"),
		col("total", "numeric"),
		col("amount", "integer"),
	))
	next := snapshot(table("orders",
		col("id", "uuid"),
		col("amount", "bigint"),
		col("status", "text"),
	))

	changes := DiffSchemas(prev, next)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Kind != models.ChangeModification {
		t.Fatalf("kind = %q, want modification", c.Kind)
	}
	if c.Impact != models.ImpactPotentiallyBreaking {
		t.Errorf("impact = %q, want potentially_breaking", c.Impact)
	}

	want := []string{
		"Changed type of amount: integer -> bigint",
		"Added column: status (text)",
		"Removed column: total",
	}
	if len(c.Details) != len(want) {
		t.Fatalf("details = %v, want %v", c.Details, want)
	}
	seen := make(map[string]bool, len(c.Details))
	for _, d := range c.Details {
		seen[d] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("missing detail %q in %v", w, c.Details)
		}
	}
}

func TestDiffSchemas_NullabilityAndDefault(t *testing.T) {
	def := "now()"
	prev := snapshot(table("orders",
		models.Column{Name: "created_at", Type: "timestamptz", Nullable: true},
	))
	next := snapshot(table("orders",
		models.Column{Name: "created_at", Type: "timestamptz", Nullable: false, Default: &def},
	))

	changes := DiffSchemas(prev, next)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	want := map[string]bool{
		"Column created_at became not null": false,
		"Changed default of created_at":     false,
	}
	for _, d := range changes[0].Details {
		if _, ok := want[d]; ok {
			want[d] = true
		}
	}
	for detail, found := range want {
		if !found {
			t.Errorf("missing detail %q in %v", detail, changes[0].Details)
		}
	}
}

func TestDiffSchemas_ConstraintAndIndexChanges(t *testing.T) {
	prevObj := table("orders", col("id", "uuid"))
	prevObj.Indexes = []models.Index{{Name: "orders_id_idx", Columns: []string{"id"}}}
	nextObj := table("orders", col("id", "uuid"))
	nextObj.Indexes = []models.Index{{Name: "orders_id_idx", Columns: []string{"id"}, Unique: true}}
	nextObj.Constraints = []models.Constraint{{Name: "orders_pk", Type: "primary_key", Columns: []string{"id"}}}

	changes := DiffSchemas(snapshot(prevObj), snapshot(nextObj))
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	seen := make(map[string]bool)
	for _, d := range changes[0].Details {
		seen[d] = true
	}
	if !seen["Constraints changed"] {
		t.Errorf("missing constraint detail in %v", changes[0].Details)
	}
	if !seen["Indexes changed"] {
		t.Errorf("missing index detail in %v", changes[0].Details)
	}
}

func TestDiffSchemas_NoChanges(t *testing.T) {
	a := snapshot(table("orders", col("id", "uuid"), col("total", "numeric")))
	b := snapshot(table("orders", col("id", "uuid"), col("total", "numeric")))
	if changes := DiffSchemas(a, b); len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}

// testDetector builds a detector over the in-memory stack with one watched
// connection whose backing row can be removed to force check failures.
func testDetector(t *testing.T) (*ChangeDetector, *repositories.MemoryConnectionRepository, uuid.UUID) {
	t.Helper()
	reg, repo := testRegistry(t)
	pools := datasource.NewPoolManager(config.PoolsConfig{}, zap.NewNop())
	t.Cleanup(func() { pools.Shutdown(context.Background()) })
	cache := NewSchemaCache(config.CacheConfig{}, nil, zap.NewNop())
	t.Cleanup(cache.Close)
	disc := NewDiscoverer(reg, pools, cache, repositories.NewMemorySnapshotRepository(), config.DiscoveryConfig{}, nil, zap.NewNop())
	det := NewChangeDetector(disc, repositories.NewMemoryChangeRepository(), nil, config.ChangesConfig{}, nil, zap.NewNop())

	ac := userCtx("u1")
	conn, err := reg.Create(context.Background(), ac, validInput("watched"), RequestMeta{})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := det.Register(context.Background(), ac, conn.ID); err != nil {
		t.Fatalf("register job: %v", err)
	}
	return det, repo, conn.ID
}

func TestChangeDetector_EjectsUnderConcurrentStatus(t *testing.T) {
	det, repo, id := testDetector(t)

	// Every check fails once the backing row is gone.
	if err := repo.Delete(context.Background(), id); err != nil {
		t.Fatalf("delete connection: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				det.Status()
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < models.MaxConsecutiveJobErrors; i++ {
			_ = det.TriggerNow(context.Background(), id)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job ejection blocked against concurrent Status calls")
	}
	close(stop)
	wg.Wait()

	if got := len(det.Status()); got != 0 {
		t.Fatalf("jobs after repeated failures = %d, want 0", got)
	}
}
