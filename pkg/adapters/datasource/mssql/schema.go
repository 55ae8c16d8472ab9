package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

const defaultTableParallel = 8

// Discover walks the sys catalog: tables, views, and foreign keys first,
// then per-table columns and indexes bounded by a semaphore.
func (a *Adapter) Discover(ctx context.Context, pool datasource.Pool, opts datasource.DiscoverOptions) (*models.DatabaseSchema, error) {
	sqlPool, ok := pool.(*datasource.SQLPool)
	if !ok {
		return nil, fmt.Errorf("mssql discovery requires a database/sql pool, got %T", pool)
	}
	db := sqlPool.Inner

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	schema := &models.DatabaseSchema{}
	objects, err := a.listRelations(ctx, db)
	if err != nil {
		return nil, err
	}
	if opts.IncludeFunctions {
		functions, err := a.listFunctions(ctx, db)
		if err != nil {
			return nil, err
		}
		objects = append(objects, functions...)
	}

	schema.Relationships, err = a.listForeignKeys(ctx, db)
	if err != nil {
		return nil, err
	}

	parallel := opts.TableParallel
	if parallel <= 0 {
		parallel = defaultTableParallel
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := range objects {
		obj := &objects[i]
		if obj.Kind != models.ObjectTable && obj.Kind != models.ObjectView {
			continue
		}
		g.Go(func() error {
			columns, err := a.listColumns(gctx, db, obj.Schema, obj.Name)
			if err != nil {
				return err
			}
			obj.Columns = columns
			if obj.Kind != models.ObjectTable {
				return nil
			}
			indexes, err := a.listIndexes(gctx, db, obj.Schema, obj.Name)
			if err != nil {
				return err
			}
			obj.Indexes = indexes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	markForeignColumns(objects, schema.Relationships)
	schema.Objects = objects
	schema.CountObjects()
	return schema, nil
}

func (a *Adapter) listRelations(ctx context.Context, db *sql.DB) ([]models.SchemaObject, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.name, o.name, o.type
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE o.type IN ('U', 'V') AND o.is_ms_shipped = 0
		ORDER BY s.name, o.name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		var obj models.SchemaObject
		var objType string
		if err := rows.Scan(&obj.Schema, &obj.Name, &objType); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if objType == "V" || objType == "V " {
			obj.Kind = models.ObjectView
		} else {
			obj.Kind = models.ObjectTable
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (a *Adapter) listFunctions(ctx context.Context, db *sql.DB) ([]models.SchemaObject, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.name, o.name
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE o.type IN ('FN', 'IF', 'TF') AND o.is_ms_shipped = 0
		ORDER BY s.name, o.name`)
	if err != nil {
		return nil, fmt.Errorf("query functions: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		obj := models.SchemaObject{Kind: models.ObjectFunction}
		if err := rows.Scan(&obj.Schema, &obj.Name); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (a *Adapter) listForeignKeys(ctx context.Context, db *sql.DB) ([]models.Relationship, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fk.name,
		       ss.name, st.name, sc.name,
		       rs.name, rt.name, rc.name
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.tables st ON st.object_id = fk.parent_object_id
		JOIN sys.schemas ss ON ss.schema_id = st.schema_id
		JOIN sys.columns sc ON sc.object_id = fkc.parent_object_id AND sc.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE fk.is_ms_shipped = 0`)
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
	return out, rows.Err()
}

func (a *Adapter) listColumns(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]models.Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.name, tp.name, c.is_nullable,
		       CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END,
		       c.column_id,
		       CASE WHEN c.max_length > 0 AND tp.name IN ('char', 'varchar', 'nchar', 'nvarchar')
		            THEN c.max_length ELSE NULL END,
		       c.precision, c.scale
		FROM sys.columns c
		JOIN sys.types tp ON tp.user_type_id = c.user_type_id
		LEFT JOIN (
			SELECT ic.object_id, ic.column_id
			FROM sys.index_columns ic
			JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
			WHERE i.is_primary_key = 1
		) pk ON pk.object_id = c.object_id AND pk.column_id = c.column_id
		WHERE c.object_id = OBJECT_ID(QUOTENAME(@p1) + N'.' + QUOTENAME(@p2))
		ORDER BY c.column_id`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var out []models.Column
	for rows.Next() {
		var col models.Column
		var primary int
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &primary,
			&col.Ordinal, &col.MaxLength, &col.Precision, &col.Scale); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.Primary = primary == 1
		out = append(out, col)
	}
	return out, rows.Err()
}

func (a *Adapter) listIndexes(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]models.Index, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT i.name, i.is_unique, c.name
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(QUOTENAME(@p1) + N'.' + QUOTENAME(@p2))
		  AND i.is_primary_key = 0 AND i.type > 0
		ORDER BY i.name, ic.key_ordinal`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query indexes for %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	byName := make(map[string]*models.Index)
	var order []string
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &unique, &column); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		idx, ok := byName[name]
		if !ok {
			idx = &models.Index{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Index, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

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
