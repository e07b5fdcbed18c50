package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgxpgconn "github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	queryLatency      metric.Float64Histogram
	activeConnections metric.Int64UpDownCounter
)

// Database is the durable room store, a thin instrumented wrapper around a
// pgx pool. Reads happen on room load, writes on debounced sync, so the
// traffic is low-volume and latency-sensitive rather than throughput-bound.
type Database struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection with a ping.
func New(dsn string) (*Database, error) {
	var err error

	meter := otel.Meter("postgres-client")
	queryLatency, err = meter.Float64Histogram("postgres.query.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres.query.latency instrument: %w", err)
	}
	activeConnections, err = meter.Int64UpDownCounter("postgres.active.connections", metric.WithUnit("connections"))
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres.active.connections instrument: %w", err)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	config.BeforeAcquire = func(ctx context.Context, _ *pgx.Conn) bool {
		activeConnections.Add(ctx, 1)
		return true
	}
	config.AfterRelease = func(_ *pgx.Conn) bool {
		activeConnections.Add(context.Background(), -1)
		return true
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, span := otel.Tracer("postgres-client").Start(context.Background(), "postgres.ping")
	defer span.End()
	if err := pool.Ping(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping database")
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	span.SetStatus(codes.Ok, "database connected")

	return &Database{pool: pool}, nil
}

func (db *Database) Close() error {
	db.pool.Close()
	return nil
}

// Health pings the pool; the readiness endpoint calls this.
func (db *Database) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *Database) queryRow(ctx context.Context, op, query string, args ...any) pgx.Row {
	start := time.Now()
	ctx, span := otel.Tracer("postgres-client").Start(ctx, op)
	defer func() {
		queryLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("postgres.operation", op)))
		span.End()
	}()
	return db.pool.QueryRow(ctx, query, args...)
}

func (db *Database) exec(ctx context.Context, op, query string, args ...any) (pgxpgconn.CommandTag, error) {
	start := time.Now()
	ctx, span := otel.Tracer("postgres-client").Start(ctx, op)
	defer func() {
		queryLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("postgres.operation", op)))
		span.End()
	}()
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exec failed")
	}
	return tag, err
}
