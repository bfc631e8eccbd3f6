package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//
//	tenant:<id>:settings   JSON Settings
//	tenant:<id>:blocked    set of blocked tenant IDs
//	tenant:<id>:contacts   hash target ID -> saved name
//	yellowpages            set of listed tenant IDs
//	yellowpage:<id>        JSON Tenant, expires with YellowPageTTL
const (
	keySettings    = "tenant:%s:settings"
	keyBlocked     = "tenant:%s:blocked"
	keyContacts    = "tenant:%s:contacts"
	keyPagesIndex  = "yellowpages"
	keyPageListing = "yellowpage:%s"
)

// RedisConfig configures the Redis directory adapter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis implements the settings, block-list, contact-list and
// yellow-pages interfaces on top of a Redis instance. Tenant
// resolution stays with the host platform and is not served from
// Redis.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: rdb}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Settings(ctx context.Context, tenantID string) (Settings, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf(keySettings, tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// SaveSettings persists a tenant's settings.
func (r *Redis) SaveSettings(ctx context.Context, tenantID string, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return r.client.Set(ctx, fmt.Sprintf(keySettings, tenantID), data, 0).Err()
}

func (r *Redis) IsBlocked(ctx context.Context, byTenant, ofTenant string) (bool, error) {
	blocked, err := r.client.SIsMember(ctx, fmt.Sprintf(keyBlocked, byTenant), ofTenant).Result()
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return blocked, nil
}

// Block adds ofTenant to byTenant's block list.
func (r *Redis) Block(ctx context.Context, byTenant, ofTenant string) error {
	return r.client.SAdd(ctx, fmt.Sprintf(keyBlocked, byTenant), ofTenant).Err()
}

// Unblock removes ofTenant from byTenant's block list.
func (r *Redis) Unblock(ctx context.Context, byTenant, ofTenant string) error {
	return r.client.SRem(ctx, fmt.Sprintf(keyBlocked, byTenant), ofTenant).Err()
}

func (r *Redis) ContactName(ctx context.Context, owner, target string) (string, bool, error) {
	name, err := r.client.HGet(ctx, fmt.Sprintf(keyContacts, owner), target).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get contact: %w", err)
	}
	return name, true, nil
}

// SaveContact stores a familiar name for target in owner's contact list.
func (r *Redis) SaveContact(ctx context.Context, owner, target, name string) error {
	return r.client.HSet(ctx, fmt.Sprintf(keyContacts, owner), target, name).Err()
}

func (r *Redis) Random(ctx context.Context, exclude string) (*Tenant, error) {
	// A listing may have expired while its index entry remains; retry
	// a few draws and drop stale index entries as they are found.
	for attempt := 0; attempt < 5; attempt++ {
		id, err := r.client.SRandMember(ctx, keyPagesIndex).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("draw yellow page: %w", err)
		}
		if id == exclude {
			continue
		}

		data, err := r.client.Get(ctx, fmt.Sprintf(keyPageListing, id)).Result()
		if errors.Is(err, redis.Nil) {
			_ = r.client.SRem(ctx, keyPagesIndex, id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get yellow page: %w", err)
		}

		var t Tenant
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode yellow page: %w", err)
		}
		return &t, nil
	}
	return nil, nil
}

func (r *Redis) Enable(ctx context.Context, tenant Tenant) error {
	data, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("encode yellow page: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyPageListing, tenant.ID), data, YellowPageTTL)
	pipe.SAdd(ctx, keyPagesIndex, tenant.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Disable(ctx context.Context, tenantID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyPageListing, tenantID))
	pipe.SRem(ctx, keyPagesIndex, tenantID)
	_, err := pipe.Exec(ctx)
	return err
}

var (
	_ SettingsStore = (*Redis)(nil)
	_ BlockList     = (*Redis)(nil)
	_ ContactList   = (*Redis)(nil)
	_ YellowPages   = (*Redis)(nil)
)
