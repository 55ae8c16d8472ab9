package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

const defaultTableParallel = 8

// Discover walks information_schema for the connected database. MySQL has
// no composite types, so IncludeTypes yields nothing.
func (a *Adapter) Discover(ctx context.Context, pool datasource.Pool, opts datasource.DiscoverOptions) (*models.DatabaseSchema, error) {
	sqlPool, ok := pool.(*datasource.SQLPool)
	if !ok {
		return nil, fmt.Errorf("mysql discovery requires a database/sql pool, got %T", pool)
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
		functions, err := a.listRoutines(ctx, db)
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
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		var obj models.SchemaObject
		var tableType string
		if err := rows.Scan(&obj.Schema, &obj.Name, &tableType); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if strings.EqualFold(tableType, "VIEW") {
			obj.Kind = models.ObjectView
		} else {
			obj.Kind = models.ObjectTable
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (a *Adapter) listRoutines(ctx context.Context, db *sql.DB) ([]models.SchemaObject, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT routine_schema, routine_name, COALESCE(data_type, '')
		FROM information_schema.routines
		WHERE routine_schema = DATABASE() AND routine_type = 'FUNCTION'
		ORDER BY routine_name`)
	if err != nil {
		return nil, fmt.Errorf("query routines: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		obj := models.SchemaObject{Kind: models.ObjectFunction}
		var returns string
		if err := rows.Scan(&obj.Schema, &obj.Name, &returns); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		obj.Metadata = map[string]string{"returns": returns}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (a *Adapter) listForeignKeys(ctx context.Context, db *sql.DB) ([]models.Relationship, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT constraint_name, table_schema, table_name, column_name,
		       referenced_table_schema, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL`)
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
		SELECT column_name, data_type, is_nullable = 'YES',
		       column_key = 'PRI', column_key = 'UNI',
		       ordinal_position, column_default,
		       character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schemaName, tableName)
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
	return out, rows.Err()
}

func (a *Adapter) listIndexes(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]models.Index, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT index_name, non_unique = 0, column_name
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name <> 'PRIMARY'
		ORDER BY index_name, seq_in_index`, schemaName, tableName)
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
