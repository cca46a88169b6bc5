// Package cache is a small namespaced key/value cache with bounded TTLs,
// backed by Redis or process memory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	MinTTL = 5 * time.Minute
	MaxTTL = 30 * time.Minute
)

var ErrInvalidKey = errors.New("cache: empty key")

// Backend stores raw values with an expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache stores JSON values under "<namespace>:<key>".
type Cache struct {
	backend   Backend
	namespace string
	ttl       time.Duration
}

// New returns a cache whose entries live for ttl, clamped to [MinTTL, MaxTTL].
func New(backend Backend, namespace string, ttl time.Duration) *Cache {
	return &Cache{backend: backend, namespace: namespace, ttl: ClampTTL(ttl)}
}

func ClampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// TTL returns the effective entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) key(k string) string { return c.namespace + ":" + k }

// Get decodes the value stored at key into v. It reports false on a miss.
func (c *Cache) Get(ctx context.Context, key string, v any) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	raw, ok, err := c.backend.Get(ctx, c.key(key))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores v at key, replacing any previous value and resetting its TTL.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.backend.Set(ctx, c.key(key), raw, c.ttl)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return c.backend.Delete(ctx, c.key(key))
}
