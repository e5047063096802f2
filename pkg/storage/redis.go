package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngoyal88/docgen/pkg/cache"
)

const (
	logKeyPrefix    = "reqlog:"
	timelineKey     = "reqlogs:timeline"
	userTimeline    = "reqlogs:user:"
	opTimeline      = "reqlogs:op:"
	defaultLogTTL   = 30 * 24 * time.Hour
	statsScanLimit  = 10000
	mgetBatchLength = 200
)

// RedisStore implements Store using Redis with time-series indexes.
// Each entry is a JSON blob under reqlog:<id>; sorted sets scored by
// creation time (unix ms) index it globally, per user and per operation.
type RedisStore struct {
	rdb *cache.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore creates a new Redis-backed log store. Entries older than
// logRetention are dropped from the indexes on every write.
func NewRedisStore(rdb *cache.Client, logRetention time.Duration) *RedisStore {
	if logRetention <= 0 {
		logRetention = defaultLogTTL
	}
	return &RedisStore{
		rdb: rdb,
		ttl: logRetention,
		now: time.Now,
	}
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// SaveRequestLog stores one entry and updates the indexes in a single transaction.
func (s *RedisStore) SaveRequestLog(ctx context.Context, entry *RequestLogEntry) error {
	if entry.ID == "" {
		return errors.New("request log: missing id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("request log: encode: %w", err)
	}

	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = s.now()
	}
	member := redis.Z{Score: score(ts), Member: entry.ID}
	cutoff := strconv.FormatFloat(score(s.now().Add(-s.ttl)), 'f', 0, 64)

	indexes := []string{timelineKey}
	if entry.UserID != "" {
		indexes = append(indexes, userTimeline+entry.UserID)
	}
	if entry.Operation != "" {
		indexes = append(indexes, opTimeline+entry.Operation)
	}

	_, err = s.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, logKeyPrefix+entry.ID, data, s.ttl)
		for _, key := range indexes {
			pipe.ZAdd(ctx, key, member)
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("request log: save %s: %w", entry.ID, err)
	}
	return nil
}

// GetRequestLog retrieves a single entry by ID.
func (s *RedisStore) GetRequestLog(ctx context.Context, id string) (*RequestLogEntry, error) {
	data, err := s.rdb.Get(ctx, logKeyPrefix+id)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry RequestLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("request log: decode %s: %w", id, err)
	}
	return &entry, nil
}

// ListRequestLogs returns entries newest first. The most selective index is
// used; the remaining filters are applied after loading.
func (s *RedisStore) ListRequestLogs(ctx context.Context, filters LogFilters) ([]*RequestLogEntry, error) {
	indexKey := timelineKey
	switch {
	case filters.UserID != "":
		indexKey = userTimeline + filters.UserID
	case filters.Operation != "":
		indexKey = opTimeline + filters.Operation
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	postFilter := filters.Status != "" || (filters.UserID != "" && filters.Operation != "")

	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filters.From.IsZero() {
		rng.Min = strconv.FormatFloat(score(filters.From), 'f', 0, 64)
	}
	if !filters.To.IsZero() {
		rng.Max = strconv.FormatFloat(score(filters.To), 'f', 0, 64)
	}
	if !postFilter {
		rng.Offset = int64(filters.Offset)
		rng.Count = int64(limit)
	}

	ids, err := s.rdb.Redis().ZRevRangeByScore(ctx, indexKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("request log: query %s: %w", indexKey, err)
	}

	entries, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if !postFilter {
		return entries, nil
	}

	out := make([]*RequestLogEntry, 0, limit)
	skipped := 0
	for _, e := range entries {
		if filters.Status != "" && e.Status != filters.Status {
			continue
		}
		if filters.Operation != "" && e.Operation != filters.Operation {
			continue
		}
		if skipped < filters.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// load fetches entries with MGET, skipping ids whose blob already expired.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*RequestLogEntry, error) {
	entries := make([]*RequestLogEntry, 0, len(ids))
	for start := 0; start < len(ids); start += mgetBatchLength {
		end := min(start+mgetBatchLength, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, logKeyPrefix+id)
		}

		vals, err := s.rdb.Redis().MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("request log: load: %w", err)
		}
		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var e RequestLogEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				continue
			}
			entries = append(entries, &e)
		}
	}
	return entries, nil
}

// GetUsageStats aggregates every entry in [from, to] for userID (all users when empty).
func (s *RedisStore) GetUsageStats(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error) {
	entries, err := s.ListRequestLogs(ctx, LogFilters{
		UserID: userID,
		From:   from,
		To:     to,
		Limit:  statsScanLimit,
	})
	if err != nil {
		return nil, err
	}

	stats := newUsageStats()
	var totalMs int64
	for _, e := range entries {
		stats.add(e)
		totalMs += e.DurationMs
	}
	stats.finish(totalMs)
	return stats, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Redis().Ping(ctx).Err()
}
