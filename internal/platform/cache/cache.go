// Package cache stores generated persona details keyed by the fingerprint
// of their inputs, so personas with identical inputs reuse one gateway call.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "persona-details:"

// DefaultTTL is how long cached details stay valid.
const DefaultTTL = 24 * time.Hour

// gcDiscardRatio is the value log garbage ratio that triggers a rewrite.
const gcDiscardRatio = 0.5

// LoadFunc produces details on a cache miss.
type LoadFunc func(ctx context.Context) (*generation.PersonaDetails, error)

// PersonaDetailsCache is a TTL cache over badger. Concurrent misses for the
// same fingerprint share one load.
type PersonaDetailsCache struct {
	db     *badger.DB
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// Open opens the cache described by cfg.
func Open(cfg config.CacheConfig, logger *slog.Logger) (*PersonaDetailsCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required unless in_memory is set")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PersonaDetailsCache{
		db:     db,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "persona_cache")),
	}, nil
}

// OpenInMemory opens a cache that lives only in process memory.
func OpenInMemory(ttl time.Duration, logger *slog.Logger) (*PersonaDetailsCache, error) {
	return Open(config.CacheConfig{InMemory: true, TTL: ttl}, logger)
}

// Close releases the underlying database.
func (c *PersonaDetailsCache) Close() error {
	return c.db.Close()
}

// Key derives the storage key for a fingerprint.
func Key(fingerprint string) []byte {
	sum := blake2b.Sum256([]byte(fingerprint))
	return []byte(keyPrefix + hex.EncodeToString(sum[:]))
}

// Get returns the cached details for fingerprint, if present and unexpired.
func (c *PersonaDetailsCache) Get(fingerprint string) (*generation.PersonaDetails, bool, error) {
	var details generation.PersonaDetails
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &details)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached persona details: %w", err)
	}
	return &details, true, nil
}

// Set stores details for fingerprint with the cache TTL.
func (c *PersonaDetailsCache) Set(fingerprint string, details *generation.PersonaDetails) error {
	val, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode persona details: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(Key(fingerprint), val).WithTTL(c.ttl))
	})
	if err != nil {
		return fmt.Errorf("write cached persona details: %w", err)
	}
	return nil
}

// GetOrLoad returns cached details for fingerprint or calls load and caches
// a valid result. The boolean reports a cache hit. Cache faults are logged
// and fall through to load; load errors are never cached.
func (c *PersonaDetailsCache) GetOrLoad(
	ctx context.Context,
	fingerprint string,
	load LoadFunc,
) (*generation.PersonaDetails, bool, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	details, hit, err := c.Get(fingerprint)
	if err != nil {
		log.Warn("persona cache read failed", slog.String("error", err.Error()))
	}
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return details, true, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, shared := c.group.Do(string(Key(fingerprint)), func() (any, error) {
		d, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if err := c.Set(fingerprint, d); err != nil {
			log.Warn("persona cache write failed", slog.String("error", redact.Error(err)))
		}
		return d, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		log.Debug("persona details load shared with a concurrent caller")
	}

	out := *v.(*generation.PersonaDetails)
	return &out, false, nil
}

// RunGC rewrites the value log every interval until ctx is done.
func (c *PersonaDetailsCache) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing worth collecting.
			for c.db.RunValueLogGC(gcDiscardRatio) == nil {
			}
		}
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
