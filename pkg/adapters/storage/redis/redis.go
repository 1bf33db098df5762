// Package redis implements the execution store on Redis with JSON values
// and a TTL, so finished records age out on their own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

const keyPrefix = "flowd:execution:"

// Store persists execution records under flowd:execution:<id>.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStore creates a Redis execution store. Records expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists the record as JSON with the configured TTL.
func (s *Store) Save(ctx context.Context, record *domain.ExecutionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.client.Set(ctx, recordKey(record.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	s.logger.Debug("record saved",
		zap.String("execution_id", record.ID),
		zap.String("status", string(record.Status)))

	return nil
}

// Get retrieves the record for id.
func (s *Store) Get(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	data, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ports.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record domain.ExecutionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &record, nil
}

// List returns records sorted by StartedAt, most recent first. A limit <= 0
// means no limit. Entries that expired or fail to decode between the scan
// and the read are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error) {
	pattern := keyPrefix + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	records := make([]*domain.ExecutionRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var record domain.ExecutionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skipping undecodable record",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].ID < records[j].ID
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// recordKey returns the Redis key for an execution record.
func recordKey(id string) string {
	return keyPrefix + id
}
