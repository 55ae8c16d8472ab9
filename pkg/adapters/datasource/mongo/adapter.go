// Package mongo implements the MongoDB dialect adapter. Collections are
// surfaced as tables with columns inferred from sampled documents.
package mongo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterInfo{
		Dialect:     models.DialectMongo,
		DisplayName: "MongoDB",
		Description: "Connect to MongoDB 4.4+",
	}, &Adapter{})
}

// Adapter is the MongoDB implementation of datasource.Adapter.
type Adapter struct{}

func (a *Adapter) Dialect() models.Dialect { return models.DialectMongo }

func clientOptions(cfg *models.ConnectionConfig, secret string) *options.ClientOptions {
	opts := options.Client().
		SetHosts([]string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}).
		SetDirect(true)
	if cfg.Username != "" {
		cred := options.Credential{
			Username:   cfg.Username,
			Password:   secret,
			AuthSource: cfg.Database,
		}
		if src, ok := cfg.Options["authSource"]; ok {
			cred.AuthSource = src
		}
		opts.SetAuth(cred)
	}
	if cfg.TLSEnabled {
		opts.SetTLSConfig(&tls.Config{})
	}
	if rs, ok := cfg.Options["replicaSet"]; ok {
		opts.SetReplicaSet(rs)
		opts.SetDirect(false)
	}
	return opts
}

// Probe connects, runs buildInfo for the server version, and dbStats for
// size. Collection names stand in for schemas.
func (a *Adapter) Probe(ctx context.Context, cfg *models.ConnectionConfig, secret string) (*datasource.ProbeInfo, error) {
	client, err := driver.Connect(ctx, clientOptions(cfg, secret))
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(context.Background())

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	info := &datasource.ProbeInfo{}
	var build struct {
		Version string `bson:"version"`
	}
	if err := client.Database(cfg.Database).RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&build); err != nil {
		return nil, fmt.Errorf("buildInfo: %w", err)
	}
	info.Version = "MongoDB " + build.Version
	info.Schemas = []string{cfg.Database}

	var stats struct {
		DataSize int64 `bson:"dataSize"`
	}
	if err := client.Database(cfg.Database).RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&stats); err == nil {
		info.SizeBytes = &stats.DataSize
	}
	return info, nil
}

// OpenPool connects a driver client sized by the connection's pool hints
// and verifies it with a ping.
func (a *Adapter) OpenPool(ctx context.Context, cfg *models.ConnectionConfig, secret string) (datasource.Pool, error) {
	hints := cfg.Pool
	hints.ApplyDefaults()

	opts := clientOptions(cfg, secret).
		SetMinPoolSize(uint64(hints.Min)).
		SetMaxPoolSize(uint64(hints.Max)).
		SetMaxConnIdleTime(hints.IdleTimeout)

	acquireCtx, cancel := context.WithTimeout(ctx, hints.AcquireTimeout)
	defer cancel()

	client, err := driver.Connect(acquireCtx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(acquireCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return &datasource.MongoPool{Inner: client, Database: cfg.Database}, nil
}

// Classify maps server command errors onto the probe error enum, falling
// back to transport classification.
func (a *Adapter) Classify(err error) models.TestErrorCode {
	if err == nil {
		return models.TestErrNone
	}

	var cmdErr driver.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 18: // AuthenticationFailed
			return models.TestErrAuthFailed
		case 13: // Unauthorized
			return models.TestErrPermissionDenied
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication failed"):
		return models.TestErrAuthFailed
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authorized"):
		return models.TestErrPermissionDenied
	case strings.Contains(msg, "server selection error"):
		// The topology error wraps the dial failure as text only.
		switch {
		case strings.Contains(msg, "connection refused"):
			return models.TestErrConnectionRefused
		case strings.Contains(msg, "no such host"):
			return models.TestErrHostNotFound
		default:
			return models.TestErrTimeout
		}
	}
	return datasource.ClassifyNetError(err)
}

const discoverTimeout = 2 * time.Minute
