package postgres

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

const defaultTableParallel = 8

// systemSchemaFilter excludes the catalog schemas from a query. The column
// reference is interpolated; it is always a literal written in this file.
func systemSchemaFilter(column string, includeSystem bool) string {
	if includeSystem {
		return "TRUE"
	}
	return fmt.Sprintf(
		"%s NOT IN ('pg_catalog', 'information_schema', 'pg_toast') AND %s NOT LIKE 'pg_%%'",
		column, column)
}

// Discover walks the catalog in two waves: object lists and foreign keys
// in parallel, then per-table columns, constraints, and indexes bounded by
// a semaphore. Any catalog query failure fails the whole discovery.
func (a *Adapter) Discover(ctx context.Context, pool datasource.Pool, opts datasource.DiscoverOptions) (*models.DatabaseSchema, error) {
	pgPool, ok := pool.(*datasource.PgxPool)
	if !ok {
		return nil, fmt.Errorf("postgres discovery requires a pgx pool, got %T", pool)
	}

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	schema := &models.DatabaseSchema{}

	var (
		mu      sync.Mutex
		objects []models.SchemaObject
	)
	appendObjects := func(batch []models.SchemaObject) {
		mu.Lock()
		objects = append(objects, batch...)
		mu.Unlock()
	}

	// Wave 1: object lists and foreign keys.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tables, err := a.listRelations(gctx, pgPool, models.ObjectTable, opts.IncludeSystem)
		if err != nil {
			return err
		}
		appendObjects(tables)
		return nil
	})
	g.Go(func() error {
		views, err := a.listRelations(gctx, pgPool, models.ObjectView, opts.IncludeSystem)
		if err != nil {
			return err
		}
		appendObjects(views)
		return nil
	})
	if opts.IncludeFunctions {
		g.Go(func() error {
			functions, err := a.listFunctions(gctx, pgPool, opts.IncludeSystem)
			if err != nil {
				return err
			}
			appendObjects(functions)
			return nil
		})
	}
	if opts.IncludeTypes {
		g.Go(func() error {
			types, err := a.listTypes(gctx, pgPool, opts.IncludeSystem)
			if err != nil {
				return err
			}
			appendObjects(types)
			return nil
		})
	}
	g.Go(func() error {
		relationships, err := a.listForeignKeys(gctx, pgPool, opts.IncludeSystem)
		if err != nil {
			return err
		}
		mu.Lock()
		schema.Relationships = relationships
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Wave 2: per-relation details.
	parallel := opts.TableParallel
	if parallel <= 0 {
		parallel = defaultTableParallel
	}
	detail, dctx := errgroup.WithContext(ctx)
	detail.SetLimit(parallel)
	for i := range objects {
		obj := &objects[i]
		if obj.Kind != models.ObjectTable && obj.Kind != models.ObjectView {
			continue
		}
		detail.Go(func() error {
			columns, err := a.listColumns(dctx, pgPool, obj.Schema, obj.Name)
			if err != nil {
				return err
			}
			obj.Columns = columns
			if obj.Kind != models.ObjectTable {
				return nil
			}
			constraints, err := a.listConstraints(dctx, pgPool, obj.Schema, obj.Name)
			if err != nil {
				return err
			}
			obj.Constraints = constraints
			indexes, err := a.listIndexes(dctx, pgPool, obj.Schema, obj.Name)
			if err != nil {
				return err
			}
			obj.Indexes = indexes
			return nil
		})
	}
	if err := detail.Wait(); err != nil {
		return nil, err
	}

	markForeignColumns(objects, schema.Relationships)
	schema.Objects = objects
	schema.CountObjects()
	return schema, nil
}

func (a *Adapter) listRelations(ctx context.Context, pool *datasource.PgxPool, kind models.ObjectKind, includeSystem bool) ([]models.SchemaObject, error) {
	tableType := "BASE TABLE"
	if kind == models.ObjectView {
		tableType = "VIEW"
	}
	query := fmt.Sprintf(`
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = $1 AND %s
		ORDER BY table_schema, table_name`,
		systemSchemaFilter("table_schema", includeSystem))

	rows, err := pool.Inner.Query(ctx, query, tableType)
	if err != nil {
		return nil, fmt.Errorf("query %ss: %w", kind, err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		obj := models.SchemaObject{Kind: kind}
		if err := rows.Scan(&obj.Schema, &obj.Name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %ss: %w", kind, err)
	}
	return out, nil
}

func (a *Adapter) listFunctions(ctx context.Context, pool *datasource.PgxPool, includeSystem bool) ([]models.SchemaObject, error) {
	query := fmt.Sprintf(`
		SELECT n.nspname, p.proname, pg_get_function_result(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE p.prokind = 'f' AND %s
		ORDER BY n.nspname, p.proname`,
		systemSchemaFilter("n.nspname", includeSystem))

	rows, err := pool.Inner.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query functions: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		obj := models.SchemaObject{Kind: models.ObjectFunction}
		var returns string
		if err := rows.Scan(&obj.Schema, &obj.Name, &returns); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		obj.Metadata = map[string]string{"returns": returns}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate functions: %w", err)
	}
	return out, nil
}

func (a *Adapter) listTypes(ctx context.Context, pool *datasource.PgxPool, includeSystem bool) ([]models.SchemaObject, error) {
	// Composite and enum types only; base types are catalog noise.
	query := fmt.Sprintf(`
		SELECT n.nspname, t.typname, t.typtype
		FROM pg_type t
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE t.typtype IN ('c', 'e') AND %s
		  AND NOT EXISTS (
			SELECT 1 FROM pg_class c WHERE c.oid = t.typrelid AND c.relkind <> 'c'
		  )
		ORDER BY n.nspname, t.typname`,
		systemSchemaFilter("n.nspname", includeSystem))

	rows, err := pool.Inner.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query types: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		obj := models.SchemaObject{Kind: models.ObjectType}
		var typtype string
		if err := rows.Scan(&obj.Schema, &obj.Name, &typtype); err != nil {
			return nil, fmt.Errorf("scan type: %w", err)
		}
		category := "composite"
		if typtype == "e" {
			category = "enum"
		}
		obj.Metadata = map[string]string{"category": category}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate types: %w", err)
	}
	return out, nil
}

func (a *Adapter) listForeignKeys(ctx context.Context, pool *datasource.PgxPool, includeSystem bool) ([]models.Relationship, error) {
	query := fmt.Sprintf(`
		SELECT
			tc.constraint_name,
			kcu.table_schema, kcu.table_name, kcu.column_name,
			ccu.table_schema, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND %s`,
		systemSchemaFilter("tc.table_schema", includeSystem))

	rows, err := pool.Inner.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		var rel models.Relationship
		if err := rows.Scan(&rel.Name, &rel.SourceSchema, &rel.SourceTable, &rel.SourceColumn,
			&rel.TargetSchema, &rel.TargetTable, &rel.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return out, nil
}

// listColumns uses pg_index for primary key and unique detection, which
// correctly identifies primary keys even when created as unique indexes
// (common with ORMs).
func (a *Adapter) listColumns(ctx context.Context, pool *datasource.PgxPool, schemaName, tableName string) ([]models.Column, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			COALESCE(pk.is_pk, false),
			COALESCE(uq.is_unique, false),
			c.ordinal_position,
			c.column_default,
			c.character_maximum_length,
			c.numeric_precision,
			c.numeric_scale
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_unique
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisunique AND NOT ix.indisprimary
			  AND n.nspname = $1 AND t.relname = $2
			  AND array_length(ix.indkey, 1) = 1
		) uq ON c.column_name = uq.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := pool.Inner.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var out []models.Column
	for rows.Next() {
		var col models.Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Primary, &col.Unique,
			&col.Ordinal, &col.Default, &col.MaxLength, &col.Precision, &col.Scale); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}

func (a *Adapter) listConstraints(ctx context.Context, pool *datasource.PgxPool, schemaName, tableName string) ([]models.Constraint, error) {
	const query = `
		SELECT con.conname, con.contype, pg_get_constraintdef(con.oid),
		       COALESCE(array_agg(a.attname ORDER BY a.attnum) FILTER (WHERE a.attname IS NOT NULL), '{}')
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		LEFT JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(con.conkey)
		WHERE n.nspname = $1 AND t.relname = $2
		GROUP BY con.conname, con.contype, con.oid
		ORDER BY con.conname`

	rows, err := pool.Inner.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query constraints for %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	typeNames := map[string]string{
		"p": "PRIMARY KEY",
		"f": "FOREIGN KEY",
		"u": "UNIQUE",
		"c": "CHECK",
		"x": "EXCLUSION",
	}

	var out []models.Constraint
	for rows.Next() {
		var c models.Constraint
		var contype string
		if err := rows.Scan(&c.Name, &contype, &c.Definition, &c.Columns); err != nil {
			return nil, fmt.Errorf("scan constraint: %w", err)
		}
		if name, ok := typeNames[contype]; ok {
			c.Type = name
		} else {
			c.Type = contype
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate constraints: %w", err)
	}
	return out, nil
}

func (a *Adapter) listIndexes(ctx context.Context, pool *datasource.PgxPool, schemaName, tableName string) ([]models.Index, error) {
	const query = `
		SELECT i.relname, ix.indisunique,
		       COALESCE(array_agg(a.attname ORDER BY a.attnum) FILTER (WHERE a.attname IS NOT NULL), '{}')
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		LEFT JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2 AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname`

	rows, err := pool.Inner.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query indexes for %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var out []models.Index
	for rows.Next() {
		var idx models.Index
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Columns); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return out, nil
}

// markForeignColumns sets Column.Foreign on columns that participate in a
// foreign key.
func markForeignColumns(objects []models.SchemaObject, relationships []models.Relationship) {
	sources := make(map[string]map[string]bool)
	for _, rel := range relationships {
		key := rel.SourceSchema + "." + rel.SourceTable
		if sources[key] == nil {
			sources[key] = make(map[string]bool)
		}
		sources[key][rel.SourceColumn] = true
	}
	for i := range objects {
		obj := &objects[i]
		cols, ok := sources[obj.Identifier()]
		if !ok {
			continue
		}
		for j := range obj.Columns {
			if cols[obj.Columns[j].Name] {
				obj.Columns[j].Foreign = true
			}
		}
	}
}
