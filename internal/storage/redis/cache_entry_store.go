// Package redis implements storage.CacheEntryStore on Redis.
//
// Each chain is one hash holding the encoded token set, the entry version and
// epoch, the head epoch and the commit timestamp. Commits use WATCH/MULTI so
// the head check and write are atomic; epoch bumps use HINCRBY inside MULTI.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/storage"
)

// DefaultKeyPrefix prefixes every cache key.
const DefaultKeyPrefix = "nftsync:cache:"

const (
	fieldTokens     = "tokens"
	fieldVersion    = "version"
	fieldEntryEpoch = "entry_epoch"
	fieldHeadEpoch  = "head_epoch"
	fieldTimestamp  = "timestamp_ms"

	maxCommitAttempts = 16
)

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CacheEntryStore implements storage.CacheEntryStore using Redis hashes.
type CacheEntryStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewCacheEntryStore creates a store. An empty prefix uses DefaultKeyPrefix.
func NewCacheEntryStore(client goredis.UniversalClient, prefix string) *CacheEntryStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &CacheEntryStore{client: client, prefix: prefix}
}

// Compile-time interface check.
var _ storage.CacheEntryStore = (*CacheEntryStore)(nil)

func (s *CacheEntryStore) key(chainID int64) string {
	return s.prefix + strconv.FormatInt(chainID, 10)
}

// Load returns the stored entry and head for chainID.
func (s *CacheEntryStore) Load(ctx context.Context, chainID int64) (_ *domain.CacheEntry, _ domain.CacheHead, err error) {
	started := time.Now()
	defer func() { observe("load_cache_entry", started, err) }()

	fields, err := s.client.HGetAll(ctx, s.key(chainID)).Result()
	if err != nil {
		return nil, domain.CacheHead{}, fmt.Errorf("load cache entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.CacheHead{}, nil
	}

	rec, err := decodeRecord(fields)
	if err != nil {
		return nil, domain.CacheHead{}, err
	}
	head := domain.CacheHead{Version: rec.version, Epoch: rec.headEpoch}

	raw, ok := fields[fieldTokens]
	if !ok {
		return nil, head, nil
	}

	var tokens []domain.Token
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, domain.CacheHead{}, fmt.Errorf("decode cached tokens: %w", err)
	}
	if tokens == nil {
		tokens = []domain.Token{}
	}

	return &domain.CacheEntry{
		ChainID:   chainID,
		Tokens:    tokens,
		Version:   rec.version,
		Epoch:     rec.entryEpoch,
		Timestamp: rec.timestampMs,
	}, head, nil
}

// Commit stores tokens under the next version. The chain key is watched and
// the write is retried when another client changes it mid-transaction.
func (s *CacheEntryStore) Commit(ctx context.Context, chainID int64, tokens []domain.Token, timestampMs int64, expected *domain.CacheHead) (_ *domain.CacheEntry, err error) {
	started := time.Now()
	defer func() { observe("commit_cache_entry", started, err) }()

	if tokens == nil {
		tokens = []domain.Token{}
	}
	payload, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("encode tokens: %w", err)
	}

	key := s.key(chainID)
	var entry *domain.CacheEntry

	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HMGet(ctx, key, fieldVersion, fieldHeadEpoch).Result()
		if err != nil {
			return err
		}
		version, err := parseField(fields[0])
		if err != nil {
			return err
		}
		headEpoch, err := parseField(fields[1])
		if err != nil {
			return err
		}

		current := domain.CacheHead{Version: version, Epoch: headEpoch}
		if expected != nil && *expected != current {
			return storage.ErrVersionConflict
		}

		next := version + 1
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldTokens, payload,
				fieldVersion, next,
				fieldEntryEpoch, headEpoch,
				fieldHeadEpoch, headEpoch,
				fieldTimestamp, timestampMs,
			)
			return nil
		})
		if err != nil {
			return err
		}

		entry = &domain.CacheEntry{
			ChainID:   chainID,
			Tokens:    tokens,
			Version:   next,
			Epoch:     headEpoch,
			Timestamp: timestampMs,
		}
		return nil
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("commit cache entry: %w", err)
		}
		return entry, nil
	}
	return nil, fmt.Errorf("commit cache entry: %w", err)
}

// BumpEpoch increments the head epoch.
func (s *CacheEntryStore) BumpEpoch(ctx context.Context, chainID int64) (_ domain.CacheHead, err error) {
	started := time.Now()
	defer func() { observe("bump_cache_epoch", started, err) }()

	key := s.key(chainID)
	var (
		epoch   *goredis.IntCmd
		version *goredis.StringCmd
	)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		epoch = pipe.HIncrBy(ctx, key, fieldHeadEpoch, 1)
		version = pipe.HGet(ctx, key, fieldVersion)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return domain.CacheHead{}, fmt.Errorf("bump cache epoch: %w", err)
	}

	head := domain.CacheHead{Epoch: uint64(epoch.Val())}
	if v, err := version.Result(); err == nil {
		head.Version, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return domain.CacheHead{}, fmt.Errorf("parse version: %w", err)
		}
	}
	return head, nil
}

type record struct {
	version     uint64
	entryEpoch  uint64
	headEpoch   uint64
	timestampMs int64
}

func decodeRecord(fields map[string]string) (record, error) {
	var (
		rec record
		err error
	)
	if rec.version, err = parseUint(fields[fieldVersion]); err != nil {
		return record{}, fmt.Errorf("parse %s: %w", fieldVersion, err)
	}
	if rec.entryEpoch, err = parseUint(fields[fieldEntryEpoch]); err != nil {
		return record{}, fmt.Errorf("parse %s: %w", fieldEntryEpoch, err)
	}
	if rec.headEpoch, err = parseUint(fields[fieldHeadEpoch]); err != nil {
		return record{}, fmt.Errorf("parse %s: %w", fieldHeadEpoch, err)
	}
	if ts := fields[fieldTimestamp]; ts != "" {
		if rec.timestampMs, err = strconv.ParseInt(ts, 10, 64); err != nil {
			return record{}, fmt.Errorf("parse %s: %w", fieldTimestamp, err)
		}
	}
	return rec, nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// parseField converts an HMGET value, where a missing field is nil.
func parseField(v interface{}) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected field type %T", v)
	}
	return parseUint(s)
}

func observe(op string, started time.Time, err error) {
	observability.RecordDBQuery("redis", op, time.Since(started), err)
}
