package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUConfig sizes the in-process cache.
type LRUConfig struct {
	Size int
	TTL  time.Duration
}

// LRUProvider is a size-bounded in-process cache whose entries expire after
// a single provider-wide TTL.
type LRUProvider struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUProvider constructs an LRUProvider. Non-positive sizes default to 256.
func NewLRUProvider(cfg LRUConfig) *LRUProvider {
	size := cfg.Size
	if size <= 0 {
		size = 256
	}
	return &LRUProvider{
		lru: expirable.NewLRU[string, []byte](size, nil, cfg.TTL),
	}
}

// Get returns a copy of the cached value or ErrCacheMiss.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := p.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value. A zero ttl skips caching; a positive ttl longer
// than the provider TTL is capped by the provider.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	p.lru.Add(key, append([]byte(nil), value...))
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.lru.Remove(key)
	return nil
}

// Purge drops every entry.
func (p *LRUProvider) Purge(context.Context) error {
	p.lru.Purge()
	return nil
}

// Close releases the cache contents.
func (p *LRUProvider) Close() error {
	p.lru.Purge()
	return nil
}
