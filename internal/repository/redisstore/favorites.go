// Package redisstore keeps favorite entries in Redis.
//
// Entries live in a hash keyed by product id (<prefix>:entries, JSON values).
// A sorted set (<prefix>:order) scores each id by AddedAt so listing is a
// single reverse range.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
)

// Favorites implements repository.FavoriteRepository.
type Favorites struct {
	rdb     redis.Cmdable
	entries string
	order   string
}

var _ repository.FavoriteRepository = (*Favorites)(nil)

// NewFavorites uses keys under prefix.
func NewFavorites(rdb redis.Cmdable, prefix string) *Favorites {
	if prefix == "" {
		prefix = "mk:favorites"
	}
	return &Favorites{rdb: rdb, entries: prefix + ":entries", order: prefix + ":order"}
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (f *Favorites) Put(ctx context.Context, e model.FavoriteEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, f.entries, e.ID, data)
		p.ZAdd(ctx, f.order, redis.Z{Score: float64(e.AddedAt.UnixMicro()), Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put favorite %s: %w", e.ID, err)
	}
	return nil
}

func (f *Favorites) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := f.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.HDel(ctx, f.entries, id)
		p.ZRem(ctx, f.order, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete favorite %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

func (f *Favorites) Get(ctx context.Context, id string) (*model.FavoriteEntry, error) {
	data, err := f.rdb.HGet(ctx, f.entries, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("favorite %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get favorite %s: %w", id, err)
	}
	var e model.FavoriteEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode favorite %s: %w", id, err)
	}
	return &e, nil
}

func (f *Favorites) List(ctx context.Context) ([]model.FavoriteEntry, error) {
	ids, err := f.rdb.ZRevRange(ctx, f.order, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	out := make([]model.FavoriteEntry, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := f.rdb.HMGet(ctx, f.entries, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// removed between the two reads
			continue
		}
		var e model.FavoriteEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode favorite %s: %w", ids[i], err)
		}
		out = append(out, e)
	}
	return out, nil
}
