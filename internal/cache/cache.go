package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hai2k2yt/flowsync/internal/models"
)

var (
	redisLatency metric.Float64Histogram
)

// Cache is the warm tier: authoritative room snapshots with a TTL, the
// per-room pending event list, and short-lived cursor positions.
type Cache struct {
	client    *redis.Client
	roomTTL   time.Duration
	cursorTTL time.Duration
}

// New creates a new Redis cache connection
func New(dsn string, roomTTL, cursorTTL time.Duration) (*Cache, error) {
	var err error

	// Initialize metrics
	meter := otel.Meter("redis-client")
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection with tracing
	ctx, span := otel.Tracer("redis-client").Start(context.Background(), "redis.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ping Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	span.SetStatus(codes.Ok, "Redis connected successfully")

	return &Cache{client: client, roomTTL: roomTTL, cursorTTL: cursorTTL}, nil
}

// NewWithClient wraps an existing client; used by tests running against miniredis.
func NewWithClient(client *redis.Client, roomTTL, cursorTTL time.Duration) (*Cache, error) {
	var err error
	meter := otel.Meter("redis-client")
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}
	return &Cache{client: client, roomTTL: roomTTL, cursorTTL: cursorTTL}, nil
}

// GetClient returns the underlying Redis client (instrumented operations should use Cache methods)
func (c *Cache) GetClient() *redis.Client {
	// Direct access to client bypasses tracing/metrics, use with caution.
	return c.client
}

// Close closes the Redis client
func (c *Cache) Close() error {
	_, span := otel.Tracer("redis-client").Start(context.Background(), "redis.close")
	defer span.End()

	return c.client.Close()
}

// Ping reports whether the cache is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func roomDataKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:data", roomID)
}

func pendingKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:pending", roomID)
}

func cursorKey(roomID, userID uuid.UUID) string {
	return fmt.Sprintf("room:%s:cursor:%s", roomID, userID)
}

// GetRoomData returns the cached room snapshot, or (nil, nil) on a miss.
func (c *Cache) GetRoomData(ctx context.Context, roomID uuid.UUID) (*models.RoomData, error) {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.get_room_data", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "get_room_data")))
		span.End()
	}()

	data, err := c.client.Get(ctx, roomDataKey(roomID)).Result()
	if err == redis.Nil {
		span.SetStatus(codes.Ok, "Room not found in cache")
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get room data")
		return nil, fmt.Errorf("failed to get room data: %w", err)
	}

	var room models.RoomData
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to unmarshal room data")
		return nil, fmt.Errorf("failed to unmarshal room data: %w", err)
	}
	span.SetStatus(codes.Ok, "Room data retrieved")
	return &room, nil
}

// SetRoomData writes the room snapshot with the configured TTL.
func (c *Cache) SetRoomData(ctx context.Context, room *models.RoomData) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.set_room_data", trace.WithAttributes(attribute.String("room.id", room.RoomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "set_room_data")))
		span.End()
	}()

	data, err := json.Marshal(room)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal room data")
		return fmt.Errorf("failed to marshal room data: %w", err)
	}
	err = c.client.Set(ctx, roomDataKey(room.RoomID), data, c.roomTTL).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set room data")
	}
	return err
}

// AppendPending adds a stamped event to the room's pending list, scored by
// its timestamp so crash recovery replays in order.
func (c *Cache) AppendPending(ctx context.Context, event models.ChangeEvent) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.append_pending", trace.WithAttributes(attribute.String("room.id", event.RoomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "append_pending")))
		span.End()
	}()

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal pending event")
		return fmt.Errorf("failed to marshal pending event: %w", err)
	}
	err = c.client.ZAdd(ctx, pendingKey(event.RoomID), redis.Z{
		Score:  float64(event.Timestamp),
		Member: string(data),
	}).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to append pending event")
	}
	return err
}

// GetAndClearPending atomically takes the whole pending list, oldest first.
func (c *Cache) GetAndClearPending(ctx context.Context, roomID uuid.UUID) ([]models.ChangeEvent, error) {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.get_and_clear_pending", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "get_and_clear_pending")))
		span.End()
	}()

	key := pendingKey(roomID)
	var members *redis.StringSliceCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.ZRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to drain pending events")
		return nil, fmt.Errorf("failed to drain pending events: %w", err)
	}

	raw := members.Val()
	events := make([]models.ChangeEvent, 0, len(raw))
	for _, m := range raw {
		var ev models.ChangeEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to unmarshal pending event")
			return nil, fmt.Errorf("failed to unmarshal pending event: %w", err)
		}
		events = append(events, ev)
	}
	span.SetStatus(codes.Ok, "Pending events drained")
	return events, nil
}

// ClearPendingUpTo removes pending events with timestamps at or below ts.
func (c *Cache) ClearPendingUpTo(ctx context.Context, roomID uuid.UUID, ts int64) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.clear_pending", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "clear_pending")))
		span.End()
	}()

	err := c.client.ZRemRangeByScore(ctx, pendingKey(roomID), "-inf", strconv.FormatInt(ts, 10)).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to clear pending events")
	}
	return err
}

// PendingCount returns the number of events awaiting durable sync.
func (c *Cache) PendingCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.pending_count", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "pending_count")))
		span.End()
	}()

	n, err := c.client.ZCard(ctx, pendingKey(roomID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to count pending events")
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return n, nil
}

// SetCursor stores a participant's cursor with a short TTL so stale cursors
// disappear on their own.
func (c *Cache) SetCursor(ctx context.Context, roomID, userID uuid.UUID, pos models.XY) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.set_cursor", trace.WithAttributes(attribute.String("room.id", roomID.String())))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", "set_cursor")))
		span.End()
	}()

	data, err := json.Marshal(pos)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal cursor")
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	err = c.client.Set(ctx, cursorKey(roomID, userID), data, c.cursorTTL).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set cursor")
	}
	return err
}

