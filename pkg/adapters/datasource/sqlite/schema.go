package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// Discover walks sqlite_master and the table_info/foreign_key_list/
// index_list pragmas. Everything lives in the "main" schema and the pool
// holds a single connection, so discovery runs sequentially.
func (a *Adapter) Discover(ctx context.Context, pool datasource.Pool, opts datasource.DiscoverOptions) (*models.DatabaseSchema, error) {
	sqlPool, ok := pool.(*datasource.SQLPool)
	if !ok {
		return nil, fmt.Errorf("sqlite discovery requires a database/sql pool, got %T", pool)
	}
	db := sqlPool.Inner

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	objects, err := a.listRelations(ctx, db, opts.IncludeSystem)
	if err != nil {
		return nil, err
	}

	schema := &models.DatabaseSchema{}
	for i := range objects {
		obj := &objects[i]
		obj.Columns, err = a.listColumns(ctx, db, obj.Name)
		if err != nil {
			return nil, err
		}
		if obj.Kind != models.ObjectTable {
			continue
		}
		rels, err := a.listForeignKeys(ctx, db, obj.Name)
		if err != nil {
			return nil, err
		}
		schema.Relationships = append(schema.Relationships, rels...)
		obj.Indexes, err = a.listIndexes(ctx, db, obj.Name)
		if err != nil {
			return nil, err
		}
	}

	markForeignColumns(objects, schema.Relationships)
	schema.Objects = objects
	schema.CountObjects()
	return schema, nil
}

func (a *Adapter) listRelations(ctx context.Context, db *sql.DB, includeSystem bool) ([]models.SchemaObject, error) {
	query := `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view')`
	if !includeSystem {
		query += ` AND name NOT LIKE 'sqlite_%'`
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sqlite_master: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaObject
	for rows.Next() {
		obj := models.SchemaObject{Schema: "main"}
		var kind string
		if err := rows.Scan(&obj.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if kind == "view" {
			obj.Kind = models.ObjectView
		} else {
			obj.Kind = models.ObjectTable
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (a *Adapter) listColumns(ctx context.Context, db *sql.DB, tableName string) ([]models.Column, error) {
	rows, err := db.QueryContext(ctx, "SELECT cid, name, type, \"notnull\", dflt_value, pk FROM pragma_table_info(?)", tableName)
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", tableName, err)
	}
	defer rows.Close()

	var out []models.Column
	for rows.Next() {
		var col models.Column
		var cid, notNull, pk int
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &col.Default, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.Ordinal = cid + 1
		col.Nullable = notNull == 0
		col.Primary = pk > 0
		out = append(out, col)
	}
	return out, rows.Err()
}

func (a *Adapter) listForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]models.Relationship, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, \"table\", \"from\", \"to\" FROM pragma_foreign_key_list(?)", tableName)
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list %s: %w", tableName, err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		var id int
		var target string
		var from, to sql.NullString
		if err := rows.Scan(&id, &target, &from, &to); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		out = append(out, models.Relationship{
			Name:         fmt.Sprintf("%s_fk_%d", tableName, id),
			SourceSchema: "main",
			SourceTable:  tableName,
			SourceColumn: from.String,
			TargetSchema: "main",
			TargetTable:  target,
			TargetColumn: to.String,
		})
	}
	return out, rows.Err()
}

func (a *Adapter) listIndexes(ctx context.Context, db *sql.DB, tableName string) ([]models.Index, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, \"unique\" FROM pragma_index_list(?) WHERE origin <> 'pk'", tableName)
	if err != nil {
		return nil, fmt.Errorf("index_list %s: %w", tableName, err)
	}
	defer rows.Close()

	var out []models.Index
	for rows.Next() {
		var idx models.Index
		var unique int
		if err := rows.Scan(&idx.Name, &unique); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		idx.Unique = unique == 1
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		cols, err := db.QueryContext(ctx, "SELECT name FROM pragma_index_info(?) ORDER BY seqno", out[i].Name)
		if err != nil {
			return nil, fmt.Errorf("index_info %s: %w", out[i].Name, err)
		}
		for cols.Next() {
			var name sql.NullString
			if err := cols.Scan(&name); err != nil {
				cols.Close()
				return nil, fmt.Errorf("scan index column: %w", err)
			}
			if name.Valid {
				out[i].Columns = append(out[i].Columns, name.String)
			}
		}
		if err := cols.Err(); err != nil {
			cols.Close()
			return nil, err
		}
		cols.Close()
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
