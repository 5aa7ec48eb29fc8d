package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
)

// Connect parses url, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// FactorCache stores UoM conversion factors under uom:{org}:{from}:{to}.
type FactorCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ core.FactorCache = (*FactorCache)(nil)

func NewFactorCache(client redis.Cmdable, ttl time.Duration) *FactorCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FactorCache{client: client, ttl: ttl}
}

func factorKey(orgID, fromUOM, toUOM uuid.UUID) string {
	return "uom:" + orgID.String() + ":" + fromUOM.String() + ":" + toUOM.String()
}

func (c *FactorCache) GetFactor(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, factorKey(orgID, fromUOM, toUOM)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to read cached factor: %w", err)
	}
	f, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached factor %q: %w", raw, err)
	}
	return f, true, nil
}

func (c *FactorCache) SetFactor(ctx context.Context, conv core.UOMConversion) error {
	key := factorKey(conv.OrganizationID, conv.FromUOMID, conv.ToUOMID)
	if err := c.client.Set(ctx, key, conv.Factor.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache factor: %w", err)
	}
	return nil
}

func (c *FactorCache) Invalidate(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) error {
	if err := c.client.Del(ctx, factorKey(orgID, fromUOM, toUOM)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached factor: %w", err)
	}
	return nil
}
