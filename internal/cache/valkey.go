package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketgate/internal/models"
)

// ErrMiss reports a snapshot that is not cached
var ErrMiss = errors.New("cache miss")

type Config struct {
	Addr     string
	Password string
	TTL      time.Duration
}

// ValkeyClient caches dashboard snapshots. The aggregate store stays the
// source of truth; an entry is only ever replaced by a snapshot of a higher
// aggregate version.
type ValkeyClient struct {
	client *redis.Client
	ttl    time.Duration
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return NewWithClient(rdb, cfg.TTL), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *ValkeyClient {
	return &ValkeyClient{client: client, ttl: ttl}
}

func snapshotKey(eventID string) string {
	return "ticketgate:snapshot:" + eventID
}

func (v *ValkeyClient) GetSnapshot(ctx context.Context, eventID string) (*models.Snapshot, error) {
	raw, err := v.client.Get(ctx, snapshotKey(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache lookup error: %w", err)
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("invalid snapshot in cache: %w", err)
	}

	return &snapshot, nil
}

// setIfNewer writes ARGV[1] unless the cached snapshot already has a version
// of at least ARGV[2]. ARGV[3] is the TTL in milliseconds, 0 for none.
var setIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  local ok, cached = pcall(cjson.decode, current)
  if ok and type(cached) == 'table' and tonumber(cached.version) and tonumber(cached.version) >= tonumber(ARGV[2]) then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// SetSnapshot caches snapshot unless a snapshot of the same or a newer
// aggregate version is already cached
func (v *ValkeyClient) SetSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	keys := []string{snapshotKey(snapshot.EventID)}
	if err := setIfNewer.Run(ctx, v.client, keys, string(raw), snapshot.Version, v.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("cache write error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) InvalidateSnapshot(ctx context.Context, eventID string) error {
	if err := v.client.Del(ctx, snapshotKey(eventID)).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}

func (v *ValkeyClient) Close() error {
	return v.client.Close()
}
