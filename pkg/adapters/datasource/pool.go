package datasource

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// PgxPool adapts *pgxpool.Pool to the Pool interface.
type PgxPool struct {
	Inner *pgxpool.Pool
}

func (p *PgxPool) Ping(ctx context.Context) error { return p.Inner.Ping(ctx) }

func (p *PgxPool) Stats() PoolStats {
	s := p.Inner.Stat()
	return PoolStats{
		Total:   s.TotalConns(),
		Active:  s.AcquiredConns(),
		Idle:    s.IdleConns(),
		Waiters: int32(s.EmptyAcquireCount()),
	}
}

func (p *PgxPool) Close() { p.Inner.Close() }

// SQLPool adapts *sql.DB (mysql, sqlite, mssql) to the Pool interface.
type SQLPool struct {
	Inner *sql.DB

	closeOnce sync.Once
}

func (p *SQLPool) Ping(ctx context.Context) error { return p.Inner.PingContext(ctx) }

func (p *SQLPool) Stats() PoolStats {
	s := p.Inner.Stats()
	return PoolStats{
		Total:   int32(s.OpenConnections),
		Active:  int32(s.InUse),
		Idle:    int32(s.Idle),
		Waiters: int32(s.WaitCount),
	}
}

func (p *SQLPool) Close() {
	p.closeOnce.Do(func() { _ = p.Inner.Close() })
}

// MongoPool adapts *mongo.Client to the Pool interface. The driver manages
// its own internal pooling; occupancy numbers are not exposed.
type MongoPool struct {
	Inner    *mongo.Client
	Database string

	closeOnce sync.Once
}

func (p *MongoPool) Ping(ctx context.Context) error {
	return p.Inner.Ping(ctx, readpref.Primary())
}

func (p *MongoPool) Stats() PoolStats { return PoolStats{} }

func (p *MongoPool) Close() {
	p.closeOnce.Do(func() { _ = p.Inner.Disconnect(context.Background()) })
}
