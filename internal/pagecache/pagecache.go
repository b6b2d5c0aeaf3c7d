// Package pagecache caches provider result pages. A small in-process LRU
// sits in front of an optional shared Redis tier; keys are derived from the
// collection name and a hash of the canonical query.
package pagecache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/observability"
	"github.com/cascadegeo/featureserv/internal/provider"
)

type Cache struct {
	lru *lru.Cache[string, []byte]
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// New builds the cache. The Redis tier is attached only when an address is
// configured; a failed ping is an error so misconfiguration surfaces at
// startup rather than as silent misses.
func New(ctx context.Context, cfg config.Cache, log zerolog.Logger) (*Cache, error) {
	l, err := lru.New[string, []byte](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("pagecache lru: %w", err)
	}
	c := &Cache{lru: l, ttl: cfg.TTL, log: log}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("pagecache redis ping: %w", err)
		}
		c.rdb = rdb
	}
	return c, nil
}

// Key builds a deterministic cache key for a validated query.
func Key(collection string, q provider.Query) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(q.StartIndex))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(q.Limit))
	b.WriteByte('|')
	b.WriteString(q.ResultType)
	b.WriteByte('|')
	for _, f := range q.BBox {
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(q.Datetime.Raw)
	b.WriteByte('|')
	for _, pf := range q.Properties {
		b.WriteString(pf.Name)
		b.WriteByte('=')
		b.WriteString(pf.Value)
		b.WriteByte('&')
	}
	b.WriteByte('|')
	for _, s := range q.SortBy {
		b.WriteString(s.Property)
		if s.Order == provider.SortDescending {
			b.WriteString(":D")
		} else {
			b.WriteString(":A")
		}
		b.WriteByte(',')
	}
	return fmt.Sprintf("page:%s:%016x", collection, xxhash.Sum64String(b.String()))
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.lru.Get(key); ok {
		observability.IncPageCache("hit_local")
		return v, true
	}
	if c.rdb != nil {
		v, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			c.lru.Add(key, v)
			observability.IncPageCache("hit_shared")
			return v, true
		}
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("pagecache redis get failed")
		}
	}
	observability.IncPageCache("miss")
	return nil, false
}

func (c *Cache) Set(ctx context.Context, key string, val []byte) {
	c.lru.Add(key, val)
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Msg("pagecache redis set failed")
		}
	}
}

// Invalidate drops every cached page for a collection from both tiers.
func (c *Cache) Invalidate(ctx context.Context, collection string) error {
	prefix := "page:" + collection + ":"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}

	if c.rdb == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("pagecache scan %s: %w", collection, err)
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("pagecache del %s: %w", collection, err)
		}
	}
	return nil
}

func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
