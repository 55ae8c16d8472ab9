package mongo

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

const (
	defaultTableParallel = 8
	sampleSize           = 50
)

// Discover lists collections as tables and infers columns by sampling
// documents. Field types come from the BSON type of the sampled values; a
// field absent from some sampled documents is marked nullable.
func (a *Adapter) Discover(ctx context.Context, pool datasource.Pool, opts datasource.DiscoverOptions) (*models.DatabaseSchema, error) {
	mongoPool, ok := pool.(*datasource.MongoPool)
	if !ok {
		return nil, fmt.Errorf("mongo discovery requires a mongo client, got %T", pool)
	}
	db := mongoPool.Inner.Database(mongoPool.Database)

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	filter := bson.D{}
	if !opts.IncludeSystem {
		filter = bson.D{{Key: "name", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$regex", Value: "^system\\."}}}}}}
	}
	names, err := db.ListCollectionNames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	objects := make([]models.SchemaObject, len(names))
	parallel := opts.TableParallel
	if parallel <= 0 {
		parallel = defaultTableParallel
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, name := range names {
		g.Go(func() error {
			obj, err := a.describeCollection(gctx, db.Collection(name), mongoPool.Database)
			if err != nil {
				return err
			}
			objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	schema := &models.DatabaseSchema{Objects: objects}
	schema.CountObjects()
	return schema, nil
}

func (a *Adapter) describeCollection(ctx context.Context, coll *driver.Collection, database string) (models.SchemaObject, error) {
	obj := models.SchemaObject{
		Kind:   models.ObjectTable,
		Schema: database,
		Name:   coll.Name(),
	}

	columns, err := a.sampleFields(ctx, coll)
	if err != nil {
		return obj, fmt.Errorf("sample %s: %w", coll.Name(), err)
	}
	obj.Columns = columns

	indexes, err := a.listIndexes(ctx, coll)
	if err != nil {
		return obj, fmt.Errorf("indexes %s: %w", coll.Name(), err)
	}
	obj.Indexes = indexes
	return obj, nil
}

type fieldProfile struct {
	bsonType string
	seen     int
	first    int
}

// sampleFields aggregates a $sample of documents and merges their
// top-level fields.
func (a *Adapter) sampleFields(ctx context.Context, coll *driver.Collection) ([]models.Column, error) {
	cursor, err := coll.Aggregate(ctx, driver.Pipeline{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: sampleSize}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	fields := make(map[string]*fieldProfile)
	docs := 0
	order := 0
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		docs++
		for _, elem := range doc {
			fp, ok := fields[elem.Key]
			if !ok {
				fp = &fieldProfile{bsonType: bsonTypeName(elem.Value), first: order}
				fields[elem.Key] = fp
				order++
			} else if t := bsonTypeName(elem.Value); fp.bsonType != t && t != "null" {
				fp.bsonType = "mixed"
			}
			fp.seen++
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	columns := make([]models.Column, 0, len(fields))
	for name, fp := range fields {
		columns = append(columns, models.Column{
			Name:     name,
			Type:     fp.bsonType,
			Nullable: fp.seen < docs,
			Primary:  name == "_id",
			Ordinal:  fp.first + 1,
		})
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Ordinal < columns[j].Ordinal })
	return columns, nil
}

func (a *Adapter) listIndexes(ctx context.Context, coll *driver.Collection) ([]models.Index, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.Index
	for cursor.Next(ctx) {
		var spec struct {
			Name   string `bson:"name"`
			Key    bson.D `bson:"key"`
			Unique bool   `bson:"unique"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, err
		}
		if spec.Name == "_id_" {
			continue
		}
		idx := models.Index{Name: spec.Name, Unique: spec.Unique}
		for _, key := range spec.Key {
			idx.Columns = append(idx.Columns, key.Key)
		}
		out = append(out, idx)
	}
	return out, cursor.Err()
}

func bsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.D, bson.M:
		return "document"
	case bson.A:
		return "array"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime:
		return "date"
	case primitive.Decimal128:
		return "decimal"
	case primitive.Binary:
		return "binary"
	default:
		return fmt.Sprintf("%T", v)
	}
}
