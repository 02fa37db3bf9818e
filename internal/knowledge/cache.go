package knowledge

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// Cache stores rendered knowledge context by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// LocalLRU is a simple in-process LRU with TTL
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List // front = most recent
	m    map[string]*list.Element
}

type lruEntry struct {
	key string
	val string
	exp time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *LocalLRU) Get(_ context.Context, key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.m[key]
	if !ok {
		return "", false
	}
	ent := el.Value.(lruEntry)
	if ent.exp.After(time.Now()) {
		l.list.MoveToFront(el)
		return ent.val, true
	}
	l.list.Remove(el)
	delete(l.m, key)
	return "", false
}

func (l *LocalLRU) Set(_ context.Context, key, value string, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent := lruEntry{key: key, val: value, exp: time.Now().Add(ttl)}
	if el, ok := l.m[key]; ok {
		el.Value = ent
		l.list.MoveToFront(el)
		return
	}
	l.m[key] = l.list.PushFront(ent)
	if l.list.Len() > l.cap {
		if back := l.list.Back(); back != nil {
			delete(l.m, back.Value.(lruEntry).key)
			l.list.Remove(back)
		}
	}
}

// Len returns the number of cached entries, expired ones included.
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// RedisCache uses circuit-breaker wrapped Redis
type RedisCache struct {
	cli *circuitbreaker.RedisWrapper
}

func NewRedisCache(cli *circuitbreaker.RedisWrapper) *RedisCache {
	return &RedisCache{cli: cli}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.cli.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	_ = r.cli.Set(ctx, key, value, ttl).Err()
}

// MakeKey derives a cache key from the customer and query text.
func MakeKey(customerID, text string) string {
	h := md5.Sum([]byte(customerID + "|" + text))
	return "kb:" + hex.EncodeToString(h[:])
}

// CachedLookup fronts a Lookup with a local LRU and an optional shared cache.
type CachedLookup struct {
	inner  Lookup
	local  *LocalLRU
	shared Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLookup wraps inner. shared may be nil.
func NewCachedLookup(inner Lookup, local *LocalLRU, shared Cache, ttl time.Duration, logger *zap.Logger) *CachedLookup {
	if local == nil {
		local = NewLocalLRU(0)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLookup{inner: inner, local: local, shared: shared, ttl: ttl, logger: logger}
}

func (c *CachedLookup) BuildContextForQuery(ctx context.Context, text, customerID string) string {
	key := MakeKey(customerID, text)
	if v, ok := c.local.Get(ctx, key); ok {
		metrics.KnowledgeCacheHits.Inc()
		return v
	}
	if c.shared != nil {
		if v, ok := c.shared.Get(ctx, key); ok {
			metrics.KnowledgeCacheHits.Inc()
			c.local.Set(ctx, key, v, c.ttl)
			return v
		}
	}
	metrics.KnowledgeCacheMisses.Inc()

	v := c.inner.BuildContextForQuery(ctx, text, customerID)
	c.local.Set(ctx, key, v, c.ttl)
	if c.shared != nil {
		c.shared.Set(ctx, key, v, c.ttl)
	}
	c.logger.Debug("Knowledge lookup cached", zap.String("key", key), zap.Int("bytes", len(v)))
	return v
}
