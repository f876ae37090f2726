package submission

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"skillsnap/internal/catalog"
	"skillsnap/internal/common/cache"
	"skillsnap/internal/common/db"
	"skillsnap/internal/common/storage"
	"skillsnap/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeRepo struct {
	mu      sync.Mutex
	subs    map[string]*Submission
	active  bool
	created int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[string]*Submission)}
}

func (r *fakeRepo) Create(ctx context.Context, tx db.Transaction, sub *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *sub
	r.subs[sub.ID] = &copied
	r.created++
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, submissionID string) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[submissionID]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*ListItem, error) {
	return nil, nil
}

func (r *fakeRepo) ListByStatus(ctx context.Context, status Status) ([]*Submission, error) {
	return nil, nil
}

func (r *fakeRepo) Transition(ctx context.Context, submissionID string, from []Status, to Status, diagnostic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[submissionID]
	if !ok {
		return ErrTransitionConflict
	}
	for _, status := range from {
		if sub.Status == status {
			sub.Status = to
			sub.Diagnostic = diagnostic
			return nil
		}
	}
	return ErrTransitionConflict
}

func (r *fakeRepo) HasActive(ctx context.Context, userID string, problemID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, nil
}

func (r *fakeRepo) ResetRunning(ctx context.Context, diagnostic string) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) createdCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}

type fakeCatalogRepo struct {
	problems map[int64]*catalog.Problem
}

func (r *fakeCatalogRepo) GetByID(ctx context.Context, problemID int64) (*catalog.Problem, error) {
	problem, ok := r.problems[problemID]
	if !ok {
		return nil, catalog.ErrProblemNotFound
	}
	return problem, nil
}

func (r *fakeCatalogRepo) List(ctx context.Context) ([]*catalog.Problem, error) {
	var out []*catalog.Problem
	for _, problem := range r.problems {
		out = append(out, problem)
	}
	return out, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	backlog    int
	capacity   int
	enqueueErr error
	retractErr error
	enqueued   []string
	retracted  []string
}

func (q *fakeQueue) Enqueue(submissionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, submissionID)
	return nil
}

func (q *fakeQueue) Backlog() int  { return q.backlog }
func (q *fakeQueue) Capacity() int { return q.capacity }

func (q *fakeQueue) Retract(ctx context.Context, submissionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retractErr != nil {
		return q.retractErr
	}
	q.retracted = append(q.retracted, submissionID)
	return nil
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New(errors.StorageError).WithMessage("object not found")
	}
	return &memReader{data: data}, nil
}

func (s *memStorage) PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error {
	buf := make([]byte, 0, sizeBytes)
	chunk := make([]byte, 4096)
	for {
		n, err := reader.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+objectKey] = buf
	return nil
}

func (s *memStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, errors.New(errors.StorageError).WithMessage("object not found")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type memReader struct {
	data []byte
	pos  int
}

func (r *memReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *memReader) Close() error { return nil }

type staticLanguages struct{ ids map[string]bool }

func (l staticLanguages) Supported(id string) bool { return l.ids[id] }

func testCatalogService() *catalog.Service {
	repo := &fakeCatalogRepo{problems: map[int64]*catalog.Problem{
		1: {
			ID:    1,
			Slug:  "two-sum",
			Title: "Two Sum",
			Examples: []catalog.Example{
				{Input: "1 2\n", Output: "3\n"},
			},
			HiddenCases: []catalog.TestCase{
				{Input: "5 5\n", Output: "10\n"},
			},
		},
	}}
	return catalog.NewService(repo)
}

func testService(t *testing.T, repo *fakeRepo, queue *fakeQueue) *Service {
	t.Helper()
	return NewService(ServiceConfig{
		Repo:      repo,
		Catalog:   testCatalogService(),
		Languages: staticLanguages{ids: map[string]bool{"python": true, "cpp": true}},
		Sources:   NewSourceStore(newMemStorage(), "submissions"),
		Queue:     queue,
	})
}

func validInput() SubmitInput {
	return SubmitInput{
		UserID:     "learner-1",
		ProblemID:  1,
		LanguageID: "python",
		SourceCode: "print(sum(map(int, input().split())))",
	}
}

func TestSubmitAccepted(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8}
	service := testService(t, repo, queue)

	id, err := service.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id == "" {
		t.Fatal("submit returned empty id")
	}

	sub, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get created submission: %v", err)
	}
	if sub.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", sub.Status)
	}
	if sub.SourceKey == "" || sub.SourceHash == "" {
		t.Fatalf("source not archived: key=%q hash=%q", sub.SourceKey, sub.SourceHash)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != id {
		t.Fatalf("enqueued = %v, want [%s]", queue.enqueued, id)
	}
}

func TestSubmitDuplicateLeavesNoRecord(t *testing.T) {
	repo := newFakeRepo()
	repo.active = true
	queue := &fakeQueue{capacity: 8}
	service := testService(t, repo, queue)

	_, err := service.Submit(context.Background(), validInput())
	if errors.GetCode(err) != errors.DuplicateSubmission {
		t.Fatalf("error code = %d, want DuplicateSubmission", errors.GetCode(err))
	}
	if repo.createdCount() != 0 {
		t.Fatalf("created %d records, want 0", repo.createdCount())
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("enqueued %v, want nothing", queue.enqueued)
	}
}

func TestSubmitQueueFullLeavesNoRecord(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{backlog: 8, capacity: 8}
	service := testService(t, repo, queue)

	_, err := service.Submit(context.Background(), validInput())
	if errors.GetCode(err) != errors.JudgeQueueFull {
		t.Fatalf("error code = %d, want JudgeQueueFull", errors.GetCode(err))
	}
	if repo.createdCount() != 0 {
		t.Fatalf("created %d records, want 0", repo.createdCount())
	}
}

func TestSubmitEnqueueRaceFinalizesRecord(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8, enqueueErr: errors.New(errors.JudgeQueueFull)}
	service := testService(t, repo, queue)

	_, err := service.Submit(context.Background(), validInput())
	if errors.GetCode(err) != errors.JudgeQueueFull {
		t.Fatalf("error code = %d, want JudgeQueueFull", errors.GetCode(err))
	}
	// The record was created before the enqueue failed; it must not be
	// left PENDING with nothing to run it.
	if repo.createdCount() != 1 {
		t.Fatalf("created %d records, want 1", repo.createdCount())
	}
	for _, sub := range repo.subs {
		if sub.Status != StatusInternalError {
			t.Fatalf("status = %s, want INTERNAL_ERROR", sub.Status)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8}
	service := testService(t, repo, queue)

	cases := []struct {
		name   string
		mutate func(*SubmitInput)
		code   errors.ErrorCode
	}{
		{"missing user", func(in *SubmitInput) { in.UserID = "" }, errors.InvalidParams},
		{"missing problem", func(in *SubmitInput) { in.ProblemID = 0 }, errors.InvalidParams},
		{"blank language", func(in *SubmitInput) { in.LanguageID = "  " }, errors.InvalidParams},
		{"blank source", func(in *SubmitInput) { in.SourceCode = "\n\t" }, errors.InvalidParams},
		{"unknown language", func(in *SubmitInput) { in.LanguageID = "cobol" }, errors.LanguageNotSupported},
		{"unknown problem", func(in *SubmitInput) { in.ProblemID = 999 }, errors.ProblemNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, err := service.Submit(context.Background(), input)
			if errors.GetCode(err) != tc.code {
				t.Fatalf("error code = %d, want %d", errors.GetCode(err), tc.code)
			}
		})
	}
	if repo.createdCount() != 0 {
		t.Fatalf("created %d records, want 0", repo.createdCount())
	}
}

func TestSubmitCodeTooLarge(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8}
	service := NewService(ServiceConfig{
		Repo:         repo,
		Catalog:      testCatalogService(),
		Languages:    staticLanguages{ids: map[string]bool{"python": true}},
		Sources:      NewSourceStore(newMemStorage(), "submissions"),
		Queue:        queue,
		MaxCodeBytes: 16,
	})

	input := validInput()
	_, err := service.Submit(context.Background(), input)
	if errors.GetCode(err) != errors.CodeTooLarge {
		t.Fatalf("error code = %d, want CodeTooLarge", errors.GetCode(err))
	}
}

func TestSubmitRateLimited(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}

	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8}
	service := NewService(ServiceConfig{
		Repo:      repo,
		Catalog:   testCatalogService(),
		Languages: staticLanguages{ids: map[string]bool{"python": true}},
		Sources:   NewSourceStore(newMemStorage(), "submissions"),
		Queue:     queue,
		Cache:     redisCache,
		RateLimit: RateLimitConfig{UserMax: 2, Window: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		repo.active = false
		if _, err := service.Submit(ctx, validInput()); err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
	}
	_, err = service.Submit(ctx, validInput())
	if errors.GetCode(err) != errors.SubmitTooFrequently {
		t.Fatalf("error code = %d, want SubmitTooFrequently", errors.GetCode(err))
	}

	// A different learner is not throttled.
	input := validInput()
	input.UserID = "learner-2"
	if _, err := service.Submit(ctx, input); err != nil {
		t.Fatalf("other learner submit: %v", err)
	}
}

func TestRetract(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8}
	service := testService(t, repo, queue)

	id, err := service.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := service.Retract(context.Background(), "learner-1", id); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if len(queue.retracted) != 1 || queue.retracted[0] != id {
		t.Fatalf("retracted = %v, want [%s]", queue.retracted, id)
	}
}

func TestRetractLosesFinalizationRace(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["sub-1"] = &Submission{ID: "sub-1", UserID: "learner-1", Status: StatusRunning}
	queue := &fakeQueue{capacity: 8, retractErr: ErrTransitionConflict}
	service := testService(t, repo, queue)

	err := service.Retract(context.Background(), "learner-1", "sub-1")
	if errors.GetCode(err) != errors.SubmissionConflict {
		t.Fatalf("error code = %d, want SubmissionConflict", errors.GetCode(err))
	}
}

func TestGetDetailReturnsOwnSource(t *testing.T) {
	repo := newFakeRepo()
	queue := &fakeQueue{capacity: 8}
	service := testService(t, repo, queue)

	input := validInput()
	id, err := service.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	detail, err := service.GetDetail(context.Background(), "learner-1", id)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.SourceCode != input.SourceCode {
		t.Fatalf("source = %q, want %q", detail.SourceCode, input.SourceCode)
	}
	if detail.ID != id || detail.Status != StatusPending {
		t.Fatalf("detail = %+v", detail)
	}

	// Another learner never sees it.
	_, err = service.GetDetail(context.Background(), "learner-2", id)
	if errors.GetCode(err) != errors.Forbidden {
		t.Fatalf("error code = %d, want Forbidden", errors.GetCode(err))
	}
}

func TestRetractTerminal(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["sub-1"] = &Submission{ID: "sub-1", UserID: "learner-1", Status: StatusAccepted}
	service := testService(t, repo, &fakeQueue{capacity: 8})

	err := service.Retract(context.Background(), "learner-1", "sub-1")
	if errors.GetCode(err) != errors.SubmissionTerminal {
		t.Fatalf("error code = %d, want SubmissionTerminal", errors.GetCode(err))
	}
}

func TestRetractOwnership(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["sub-1"] = &Submission{ID: "sub-1", UserID: "learner-1", Status: StatusPending}
	service := testService(t, repo, &fakeQueue{capacity: 8})

	err := service.Retract(context.Background(), "learner-2", "sub-1")
	if errors.GetCode(err) != errors.Forbidden {
		t.Fatalf("error code = %d, want Forbidden", errors.GetCode(err))
	}

	err = service.Retract(context.Background(), "learner-1", "missing")
	if errors.GetCode(err) != errors.SubmissionNotFound {
		t.Fatalf("error code = %d, want SubmissionNotFound", errors.GetCode(err))
	}
}

type staticProgress struct {
	progress EvaluationProgress
	ok       bool
}

func (p staticProgress) Get(ctx context.Context, submissionID string) (EvaluationProgress, bool) {
	return p.progress, p.ok
}

func TestGetStatusIncludesProgressWhileRunning(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["sub-1"] = &Submission{ID: "sub-1", UserID: "learner-1", ProblemID: 1, Status: StatusRunning}
	service := NewService(ServiceConfig{
		Repo:      repo,
		Catalog:   testCatalogService(),
		Languages: staticLanguages{ids: map[string]bool{"python": true}},
		Sources:   NewSourceStore(newMemStorage(), "submissions"),
		Queue:     &fakeQueue{capacity: 8},
		Progress:  staticProgress{progress: EvaluationProgress{CurrentTest: 3, TotalTests: 7}, ok: true},
	})

	view, err := service.GetStatus(context.Background(), "learner-1", "sub-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if view.Progress == nil {
		t.Fatal("expected progress for a running submission")
	}
	if view.Progress.CurrentTest != 3 || view.Progress.TotalTests != 7 {
		t.Fatalf("progress = %+v", view.Progress)
	}
}

func TestGetStatusOmitsProgressWhenTerminal(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["sub-1"] = &Submission{ID: "sub-1", UserID: "learner-1", ProblemID: 1, Status: StatusAccepted}
	service := NewService(ServiceConfig{
		Repo:      repo,
		Catalog:   testCatalogService(),
		Languages: staticLanguages{ids: map[string]bool{"python": true}},
		Sources:   NewSourceStore(newMemStorage(), "submissions"),
		Queue:     &fakeQueue{capacity: 8},
		Progress:  staticProgress{progress: EvaluationProgress{CurrentTest: 3, TotalTests: 7}, ok: true},
	})

	view, err := service.GetStatus(context.Background(), "learner-1", "sub-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if view.Progress != nil {
		t.Fatalf("progress = %+v, want nil for a terminal submission", view.Progress)
	}
}
