package judge

import (
	"context"
	"testing"

	"skillsnap/internal/common/cache"
	"skillsnap/internal/submission"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testCache(t *testing.T) cache.Cache {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	return redisCache
}

func TestProgressRoundTrip(t *testing.T) {
	reporter := NewProgressReporter(testCache(t))
	ctx := context.Background()

	reporter.Report(ctx, Progress{
		SubmissionID: "sub-1",
		Status:       submission.StatusRunning,
		CurrentTest:  2,
		TotalTests:   9,
	})

	progress, ok := reporter.Get(ctx, "sub-1")
	if !ok {
		t.Fatal("progress not found after report")
	}
	if progress.CurrentTest != 2 || progress.TotalTests != 9 {
		t.Fatalf("progress = %+v", progress)
	}
	if progress.Status != submission.StatusRunning {
		t.Fatalf("status = %s, want RUNNING", progress.Status)
	}
	if progress.UpdatedAt.IsZero() {
		t.Fatal("updated_at not stamped")
	}
}

func TestProgressClear(t *testing.T) {
	reporter := NewProgressReporter(testCache(t))
	ctx := context.Background()

	reporter.Report(ctx, Progress{SubmissionID: "sub-1", CurrentTest: 1, TotalTests: 3})
	reporter.Clear(ctx, "sub-1")

	if _, ok := reporter.Get(ctx, "sub-1"); ok {
		t.Fatal("progress survived clear")
	}
}

func TestProgressMissing(t *testing.T) {
	reporter := NewProgressReporter(testCache(t))
	if _, ok := reporter.Get(context.Background(), "absent"); ok {
		t.Fatal("expected no progress for an unknown submission")
	}
}

func TestProgressNilReceiverIsSafe(t *testing.T) {
	var reporter *ProgressReporter
	ctx := context.Background()
	reporter.Report(ctx, Progress{SubmissionID: "sub-1"})
	reporter.Clear(ctx, "sub-1")
	if _, ok := reporter.Get(ctx, "sub-1"); ok {
		t.Fatal("nil reporter returned progress")
	}
}
