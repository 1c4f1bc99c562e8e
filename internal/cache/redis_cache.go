// Package cache provides a Redis-backed cache for per-document annotation lists.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marginalia/internal/store"
)

// ErrMiss is returned when no cached list exists for a document.
var ErrMiss = fmt.Errorf("cache miss")

// AnnotationCache caches annotation lists keyed by document ID.
type AnnotationCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a Redis-backed annotation cache.
func New(redisURL string, ttl time.Duration) (*AnnotationCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *AnnotationCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AnnotationCache{
		client: client,
		prefix: "annolist:",
		ttl:    ttl,
	}
}

func (c *AnnotationCache) key(documentID string) string {
	return c.prefix + documentID
}

// GetList returns the cached annotation list for a document, or ErrMiss.
func (c *AnnotationCache) GetList(ctx context.Context, documentID string) ([]store.Annotation, error) {
	raw, err := c.client.Get(ctx, c.key(documentID)).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get annotation list: %w", err)
	}

	var annotations []store.Annotation
	if err := json.Unmarshal([]byte(raw), &annotations); err != nil {
		return nil, fmt.Errorf("unmarshal annotation list: %w", err)
	}
	return annotations, nil
}

// SetList caches the annotation list for a document.
func (c *AnnotationCache) SetList(ctx context.Context, documentID string, annotations []store.Annotation) error {
	raw, err := json.Marshal(annotations)
	if err != nil {
		return fmt.Errorf("marshal annotation list: %w", err)
	}
	if err := c.client.Set(ctx, c.key(documentID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set annotation list: %w", err)
	}
	return nil
}

// Invalidate drops the cached list for a document. Called after every write.
func (c *AnnotationCache) Invalidate(ctx context.Context, documentID string) error {
	if err := c.client.Del(ctx, c.key(documentID)).Err(); err != nil {
		return fmt.Errorf("invalidate annotation list: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *AnnotationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *AnnotationCache) Close() error {
	return c.client.Close()
}
