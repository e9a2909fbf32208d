// Package cache keeps fetched catalog chunks in a persistent store so the
// planner does not hit the catalog host for chunks it has seen recently.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"gearplanner/internal/chunks"
)

const (
	// DefaultVersion is the schema version prefixed to every key
	DefaultVersion = "v2"
	// DefaultTTL is how long a cached chunk stays fresh
	DefaultTTL = 30 * 24 * time.Hour
)

// Options configures a Cache
type Options struct {
	Version string
	TTL     time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Cache is a read-through cache of catalog resources in front of a Fetcher
type Cache struct {
	store   Store
	fetcher chunks.Fetcher
	version string
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	group   singleflight.Group
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a cache over store, filling misses from fetcher
func New(store Store, fetcher chunks.Fetcher, opts Options) (*Cache, error) {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Cache{
		store:   store,
		fetcher: fetcher,
		version: opts.Version,
		ttl:     opts.TTL,
		now:     opts.Now,
		logger:  opts.Logger.With("component", "cache"),
		encoder: enc,
		decoder: dec,
	}, nil
}

// Key returns the versioned store key for key
func (c *Cache) Key(key string) string {
	return c.version + "-" + key
}

// GetOrFetch returns the payload for key, fetching source on a miss or when
// the cached copy is older than the TTL
func (c *Cache) GetOrFetch(ctx context.Context, key, source string) ([]byte, error) {
	vkey := c.Key(key)
	if data, ok := c.lookup(ctx, vkey); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(vkey, func() (any, error) {
		data, err := c.fetcher.Fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		c.save(ctx, vkey, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) lookup(ctx context.Context, vkey string) ([]byte, bool) {
	rec, ok, err := c.store.Get(ctx, vkey)
	if err != nil {
		c.logger.Debug("cache read failed", "key", vkey, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if c.now().Sub(rec.FetchedAt) >= c.ttl {
		c.logger.Debug("cache entry expired", "key", vkey, "fetched_at", rec.FetchedAt)
		return nil, false
	}
	data, err := c.decoder.DecodeAll(rec.Payload, nil)
	if err != nil {
		c.logger.Debug("cache entry unreadable", "key", vkey, "error", err)
		return nil, false
	}
	return data, true
}

func (c *Cache) save(ctx context.Context, vkey string, data []byte) {
	rec := Record{
		Payload:   c.encoder.EncodeAll(data, nil),
		FetchedAt: c.now(),
	}
	if err := c.store.Put(ctx, vkey, rec); err != nil {
		c.logger.Debug("cache write failed", "key", vkey, "error", err)
	}
}

// Clear removes every cached entry
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// PurgeStale removes entries written under a different schema version
func (c *Cache) PurgeStale(ctx context.Context) (int, error) {
	return c.store.DeleteWithoutPrefix(ctx, c.version+"-")
}

// Close releases the codec resources and the underlying store
func (c *Cache) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return c.store.Close()
}
