package judge

import (
	"context"
	"encoding/json"
	"time"

	"skillsnap/internal/common/cache"
	"skillsnap/internal/submission"
	"skillsnap/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	progressKeyPrefix = "judge:progress:"
	progressTTL       = 30 * time.Minute
)

// Progress is the live view of an evaluation, mirrored in redis so
// status polls do not hit the database while a run is in flight.
type Progress struct {
	SubmissionID string            `json:"submission_id"`
	Status       submission.Status `json:"status"`
	CurrentTest  int               `json:"current_test"`
	TotalTests   int               `json:"total_tests"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ProgressReporter mirrors evaluation progress in the cache. All
// methods are best effort: a cache outage must never fail a judgement.
type ProgressReporter struct {
	cache cache.Cache
}

func NewProgressReporter(cacheClient cache.Cache) *ProgressReporter {
	return &ProgressReporter{cache: cacheClient}
}

func (r *ProgressReporter) Report(ctx context.Context, progress Progress) {
	if r == nil || r.cache == nil {
		return
	}
	progress.UpdatedAt = time.Now()
	payload, err := json.Marshal(progress)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, progressKey(progress.SubmissionID), string(payload), cache.JitterTTL(progressTTL)); err != nil {
		logger.Warn(ctx, "report progress failed",
			zap.String("submission_id", progress.SubmissionID), zap.Error(err))
	}
}

// Get returns the mirrored progress, or false when nothing is cached.
func (r *ProgressReporter) Get(ctx context.Context, submissionID string) (Progress, bool) {
	if r == nil || r.cache == nil {
		return Progress{}, false
	}
	raw, err := r.cache.Get(ctx, progressKey(submissionID))
	if err != nil || raw == "" {
		return Progress{}, false
	}
	var progress Progress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return Progress{}, false
	}
	return progress, true
}

// Clear drops the mirror once a submission reaches a terminal status.
func (r *ProgressReporter) Clear(ctx context.Context, submissionID string) {
	if r == nil || r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, progressKey(submissionID))
}

func progressKey(submissionID string) string {
	return progressKeyPrefix + submissionID
}
