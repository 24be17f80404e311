// Package status keeps the last run summary of every project.
package status

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"contractlab/internal/build/model"
	"contractlab/internal/common/cache"
	appErr "contractlab/pkg/errors"
)

const (
	keyPrefix  = "contractlab:run:"
	fieldLast  = "last"
	fieldAt    = "updatedAt"
	defaultTTL = 7 * 24 * time.Hour
)

// Store records and reads run summaries keyed by project id.
type Store interface {
	Record(ctx context.Context, projectID string, summary model.RunSummary) error
	Last(ctx context.Context, projectID string) (*model.RunSummary, error)
	Forget(ctx context.Context, projectID string) error
}

// RedisStore keeps one hash per project: the last run, the last run of each
// kind and the update time.
type RedisStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisStore creates a store whose hashes expire after ttl of inactivity.
func NewRedisStore(c cache.Cache, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) Record(ctx context.Context, projectID string, summary model.RunSummary) error {
	if projectID == "" {
		return appErr.ValidationError("project_id", "required")
	}
	if s.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode run summary failed")
	}
	key := keyPrefix + projectID
	fields := map[string]interface{}{
		fieldLast:            string(data),
		string(summary.Kind): string(data),
		fieldAt:              strconv.FormatInt(summary.FinishedAt.Unix(), 10),
	}
	if err := s.cache.HMSet(ctx, key, fields); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store run summary failed")
	}
	if err := s.cache.Expire(ctx, key, cache.JitterTTL(s.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "expire run summary failed")
	}
	return nil
}

// Last returns nil without error when the project has no recorded run.
func (s *RedisStore) Last(ctx context.Context, projectID string) (*model.RunSummary, error) {
	return s.read(ctx, projectID, fieldLast)
}

// LastOf returns the most recent run of one kind.
func (s *RedisStore) LastOf(ctx context.Context, projectID string, kind model.RunKind) (*model.RunSummary, error) {
	return s.read(ctx, projectID, string(kind))
}

func (s *RedisStore) read(ctx context.Context, projectID, field string) (*model.RunSummary, error) {
	if projectID == "" {
		return nil, appErr.ValidationError("project_id", "required")
	}
	if s.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	fields, err := s.cache.HGetAll(ctx, keyPrefix+projectID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load run summary failed")
	}
	raw, ok := fields[field]
	if !ok || raw == "" {
		return nil, nil
	}
	var summary model.RunSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode run summary failed")
	}
	return &summary, nil
}

func (s *RedisStore) Forget(ctx context.Context, projectID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Del(ctx, keyPrefix+projectID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete run summary failed")
	}
	return nil
}

// NoopStore is used when Redis is not configured.
type NoopStore struct{}

func (NoopStore) Record(context.Context, string, model.RunSummary) error { return nil }

func (NoopStore) Last(context.Context, string) (*model.RunSummary, error) { return nil, nil }

func (NoopStore) Forget(context.Context, string) error { return nil }
