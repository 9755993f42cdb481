// Package redisstore implements store.Store on Redis.
//
// Layout, under a configurable prefix:
//
//	rec:<identity key>   JSON record
//	ext:<external id>    identity key
//	name:<name>          set of identity keys sharing a normalized name
//	missing              sorted set of identity keys without a price, by update time
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/store"
)

const defaultPrefix = "cardprice:"

var timeNow = time.Now

// Store is a store.Store over Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *logging.Logger
}

var _ store.Store = (*Store)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options, logger *logging.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts.Prefix, logger), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string, logger *logging.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Store{client: client, prefix: prefix, logger: logger.With("component", "redisstore")}
}

func (s *Store) recordKey(identityKey string) string { return s.prefix + "rec:" + identityKey }
func (s *Store) extKey(externalID string) string    { return s.prefix + "ext:" + externalID }
func (s *Store) nameKey(name string) string         { return s.prefix + "name:" + store.NormalizedName(name) }
func (s *Store) missingKey() string                 { return s.prefix + "missing" }

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id store.Identity) (*store.Record, error) {
	if !id.Valid() {
		return nil, store.ErrInvalidIdentity
	}

	if id.ExternalID != "" {
		identityKey, err := s.client.Get(ctx, s.extKey(id.ExternalID)).Result()
		switch {
		case err == nil:
			recs, err := s.load(ctx, identityKey)
			if err != nil || len(recs) > 0 {
				return first(recs), err
			}
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("get external id: %w", err)
		}
		if id.Name == "" {
			return nil, nil
		}
	}

	keys, err := s.client.SMembers(ctx, s.nameKey(id.Name)).Result()
	if err != nil {
		return nil, fmt.Errorf("get name index: %w", err)
	}
	recs, err := s.load(ctx, keys...)
	if err != nil {
		return nil, err
	}

	var best *store.Record
	for i := range recs {
		if !recs[i].Matches(id) {
			continue
		}
		if best == nil || recs[i].UpdatedAt.After(best.UpdatedAt) {
			best = &recs[i]
		}
	}
	return best, nil
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, rec store.Record) (string, error) {
	if !rec.Valid() {
		return "", store.ErrInvalidIdentity
	}
	identityKey := rec.Key()

	existing, err := s.load(ctx, identityKey)
	if err != nil {
		return "", err
	}
	switch {
	case len(existing) > 0:
		rec.ID = existing[0].ID
	case rec.ID == "":
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = timeNow()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.recordKey(identityKey), payload, 0)
		if rec.ExternalID != "" {
			p.Set(ctx, s.extKey(rec.ExternalID), identityKey, 0)
		}
		if rec.Name != "" {
			p.SAdd(ctx, s.nameKey(rec.Name), identityKey)
		}
		if rec.MarketPrice.Valid {
			p.ZRem(ctx, s.missingKey(), identityKey)
		} else {
			p.ZAdd(ctx, s.missingKey(), &redis.Z{Score: float64(rec.UpdatedAt.UnixMilli()), Member: identityKey})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upsert %s: %w", identityKey, err)
	}
	return rec.ID, nil
}

// ListMissingPrice implements store.Store.
func (s *Store) ListMissingPrice(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	keys, err := s.client.ZRange(ctx, s.missingKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list missing price: %w", err)
	}
	return s.load(ctx, keys...)
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.client.Close()
}

// load fetches records by identity key, skipping keys that no longer exist.
func (s *Store) load(ctx context.Context, identityKeys ...string) ([]store.Record, error) {
	if len(identityKeys) == 0 {
		return nil, nil
	}
	keys := make([]string, len(identityKeys))
	for i, k := range identityKeys {
		keys[i] = s.recordKey(k)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	out := make([]store.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec store.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("Skipping undecodable record", "key", keys[i], "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func first(recs []store.Record) *store.Record {
	if len(recs) == 0 {
		return nil
	}
	return &recs[0]
}
