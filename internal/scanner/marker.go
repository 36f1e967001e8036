package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"schoollibrary/internal/clock"
)

// Marker remembers the last date a reminder was delivered
type Marker interface {
	LastNotified(ctx context.Context) (time.Time, bool, error)
	MarkNotified(ctx context.Context, date time.Time) error
}

// MemoryMarker keeps the date in process memory
type MemoryMarker struct {
	mu   sync.Mutex
	date time.Time
	set  bool
}

// NewMemoryMarker creates an empty MemoryMarker
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{}
}

// LastNotified returns the recorded date, if any
func (m *MemoryMarker) LastNotified(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.date, m.set, nil
}

// MarkNotified records date
func (m *MemoryMarker) MarkNotified(ctx context.Context, date time.Time) error {
	m.mu.Lock()
	m.date = clock.Date(date)
	m.set = true
	m.mu.Unlock()
	return nil
}

const (
	// DefaultMarkerKey is the Redis key holding the last notified date
	DefaultMarkerKey = "library:due-scanner:last-notified"

	markerDateLayout = "2006-01-02"
	markerTTL        = 72 * time.Hour
	redisTimeout     = 3 * time.Second
)

// RedisMarker keeps the date in Redis so restarts on the same day do not
// repeat the reminder
type RedisMarker struct {
	client *redis.Client
	key    string
}

// NewRedisMarker builds a Redis-backed marker
func NewRedisMarker(addr, password string) *RedisMarker {
	return NewRedisMarkerWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), DefaultMarkerKey)
}

// NewRedisMarkerWithClient wraps an existing client
func NewRedisMarkerWithClient(client *redis.Client, key string) *RedisMarker {
	if key == "" {
		key = DefaultMarkerKey
	}
	return &RedisMarker{client: client, key: key}
}

// LastNotified reads the stored date
func (m *RedisMarker) LastNotified(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	val, err := m.client.Get(ctx, m.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read marker: %w", err)
	}

	date, err := time.Parse(markerDateLayout, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid marker value %q: %w", val, err)
	}
	return date, true, nil
}

// MarkNotified stores date with a TTL of a few days
func (m *RedisMarker) MarkNotified(ctx context.Context, date time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := m.client.Set(ctx, m.key, clock.Date(date).Format(markerDateLayout), markerTTL).Err(); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

// Close releases the Redis client
func (m *RedisMarker) Close() error {
	return m.client.Close()
}
