package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/cache"
	"go.uber.org/zap"
)

// StatusCache keeps short-lived job snapshots in front of the durable store. The durable
// store stays the source of truth: entries expire after ttl and every transition
// overwrites the cached copy. A nil *StatusCache is a no-op.
type StatusCache struct {
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewStatusCache(c cache.Cache, ttl time.Duration, log *zap.Logger) *StatusCache {
	return &StatusCache{cache: c, ttl: ttl, log: log}
}

// Get returns the cached snapshot of jobID, if any.
func (sc *StatusCache) Get(ctx context.Context, jobID string) (*Job, bool) {
	if sc == nil {
		return nil, false
	}
	raw, err := sc.cache.Get(ctx, sc.cache.GenerateKey("job", jobID))
	if err != nil {
		sc.log.Warn("job cache read failed", zap.String("job_id", jobID), zap.Error(err))
		return nil, false
	}
	if raw == "" {
		return nil, false
	}
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		sc.log.Warn("job cache entry unreadable", zap.String("job_id", jobID), zap.Error(err))
		return nil, false
	}
	return &j, true
}

// Put stores a snapshot of j.
func (sc *StatusCache) Put(ctx context.Context, j *Job) {
	if sc == nil || j == nil {
		return
	}
	raw, err := json.Marshal(j)
	if err != nil {
		sc.log.Warn("job cache marshal failed", zap.String("job_id", j.JobID), zap.Error(err))
		return
	}
	if err := sc.cache.Set(ctx, sc.cache.GenerateKey("job", j.JobID), raw, sc.ttl); err != nil {
		sc.log.Warn("job cache write failed", zap.String("job_id", j.JobID), zap.Error(err))
	}
}
