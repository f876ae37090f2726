package submission

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"skillsnap/internal/catalog"
	"skillsnap/internal/common/cache"
	"skillsnap/pkg/errors"
	"skillsnap/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	rateUserKeyPrefix   = "submit:rate:user:"
	defaultMaxCodeBytes = 64 * 1024
)

// LanguageResolver reports whether a language id is supported.
type LanguageResolver interface {
	Supported(id string) bool
}

// Queue is the scheduler surface the intake path needs.
type Queue interface {
	Enqueue(submissionID string) error
	Backlog() int
	Capacity() int
	Retract(ctx context.Context, submissionID string) error
}

// EvaluationProgress is the live test counter for a running submission.
type EvaluationProgress struct {
	CurrentTest int `json:"current_test"`
	TotalTests  int `json:"total_tests"`
}

// ProgressSource reads live evaluation progress, if any.
type ProgressSource interface {
	Get(ctx context.Context, submissionID string) (EvaluationProgress, bool)
}

// RateLimitConfig throttles submissions per learner.
type RateLimitConfig struct {
	UserMax int           `yaml:"user_max"`
	Window  time.Duration `yaml:"window"`
}

// SubmitInput describes one submission request.
type SubmitInput struct {
	UserID     string
	ProblemID  int64
	LanguageID string
	SourceCode string
}

// StatusView is what a learner sees when polling a submission.
type StatusView struct {
	ID          string              `json:"id"`
	ProblemID   int64               `json:"problem_id"`
	LanguageID  string              `json:"language_id"`
	Status      Status              `json:"status"`
	Diagnostic  string              `json:"diagnostic,omitempty"`
	Progress    *EvaluationProgress `json:"progress,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// DetailView is the full learner view of one submission, including the
// source code they submitted. Only ever returned to the owner.
type DetailView struct {
	StatusView
	SourceCode string `json:"source_code"`
}

// Service handles submission intake, retraction and learner queries.
type Service struct {
	repo      Repository
	catalog   *catalog.Service
	languages LanguageResolver
	sources   *SourceStore
	queue     Queue
	cache     cache.Cache
	progress  ProgressSource

	maxCodeBytes int
	rateLimit    RateLimitConfig
}

// ServiceConfig holds intake dependencies and settings.
type ServiceConfig struct {
	Repo      Repository
	Catalog   *catalog.Service
	Languages LanguageResolver
	Sources   *SourceStore
	Queue     Queue
	Cache     cache.Cache
	Progress  ProgressSource

	MaxCodeBytes int
	RateLimit    RateLimitConfig
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	return &Service{
		repo:         cfg.Repo,
		catalog:      cfg.Catalog,
		languages:    cfg.Languages,
		sources:      cfg.Sources,
		queue:        cfg.Queue,
		cache:        cfg.Cache,
		progress:     cfg.Progress,
		maxCodeBytes: cfg.MaxCodeBytes,
		rateLimit:    cfg.RateLimit,
	}
}

// Submit validates and accepts a submission, returning its id. The
// record is created PENDING and enqueued for evaluation; every
// rejection happens before any record exists.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (string, error) {
	if err := s.validateInput(input); err != nil {
		return "", err
	}
	if err := s.checkRateLimit(ctx, input.UserID); err != nil {
		return "", err
	}

	if _, err := s.catalog.GetView(ctx, input.ProblemID); err != nil {
		return "", err
	}

	active, err := s.repo.HasActive(ctx, input.UserID, input.ProblemID)
	if err != nil {
		return "", errors.Wrapf(err, errors.DatabaseError, "check active submissions failed")
	}
	if active {
		return "", errors.New(errors.DuplicateSubmission).
			WithMessage("an evaluation for this problem is already in flight")
	}

	if s.queue.Backlog() >= s.queue.Capacity() {
		return "", errors.New(errors.JudgeQueueFull).WithMessage("evaluation queue is full")
	}

	submissionID := uuid.NewString()
	sourceKey, sourceHash, err := s.sources.Upload(ctx, submissionID, input.SourceCode)
	if err != nil {
		return "", err
	}

	sub := &Submission{
		ID:         submissionID,
		UserID:     input.UserID,
		ProblemID:  input.ProblemID,
		LanguageID: input.LanguageID,
		SourceKey:  sourceKey,
		SourceHash: sourceHash,
		Status:     StatusPending,
	}
	if err := s.repo.Create(ctx, nil, sub); err != nil {
		return "", errors.Wrapf(err, errors.SubmissionCreateFailed, "create submission failed")
	}

	if err := s.queue.Enqueue(submissionID); err != nil {
		// The queue filled between the capacity check and here. The
		// record must not stay PENDING with nothing to run it.
		if terr := s.repo.Transition(ctx, submissionID,
			[]Status{StatusPending}, StatusInternalError, "evaluation queue overflow"); terr != nil {
			logger.Error(ctx, "finalize overflowed submission failed",
				zap.String("submission_id", submissionID), zap.Error(terr))
		}
		return "", errors.New(errors.JudgeQueueFull).WithMessage("evaluation queue is full")
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submissionID),
		zap.String("user_id", input.UserID),
		zap.Int64("problem_id", input.ProblemID),
		zap.String("language_id", input.LanguageID))
	return submissionID, nil
}

// Retract cancels a learner's own non-terminal submission.
func (s *Service) Retract(ctx context.Context, userID, submissionID string) error {
	sub, err := s.getOwned(ctx, userID, submissionID)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() {
		return errors.New(errors.SubmissionTerminal).
			WithMessage("submission already has a verdict")
	}
	if err := s.queue.Retract(ctx, submissionID); err != nil {
		// The worker finalized the submission first; its verdict stands.
		if stderrors.Is(err, ErrTransitionConflict) {
			return errors.New(errors.SubmissionConflict).
				WithMessage("submission was finalized before it could be cancelled")
		}
		return errors.Wrapf(err, errors.JudgeSystemError, "retract submission failed")
	}
	return nil
}

// GetStatus returns the learner view of one submission, including live
// progress while it is running.
func (s *Service) GetStatus(ctx context.Context, userID, submissionID string) (*StatusView, error) {
	sub, err := s.getOwned(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	return s.statusView(ctx, sub), nil
}

// GetDetail returns the status view plus the learner's own submitted
// source code.
func (s *Service) GetDetail(ctx context.Context, userID, submissionID string) (*DetailView, error) {
	sub, err := s.getOwned(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	source, err := s.sources.Fetch(ctx, sub.SourceKey, sub.SourceHash)
	if err != nil {
		return nil, err
	}
	return &DetailView{
		StatusView: *s.statusView(ctx, sub),
		SourceCode: source,
	}, nil
}

func (s *Service) statusView(ctx context.Context, sub *Submission) *StatusView {
	view := &StatusView{
		ID:          sub.ID,
		ProblemID:   sub.ProblemID,
		LanguageID:  sub.LanguageID,
		Status:      sub.Status,
		Diagnostic:  sub.Diagnostic,
		CreatedAt:   sub.CreatedAt,
		CompletedAt: sub.CompletedAt,
	}
	if sub.Status == StatusRunning && s.progress != nil {
		if progress, ok := s.progress.Get(ctx, sub.ID); ok {
			view.Progress = &progress
		}
	}
	return view
}

// List returns the learner's submission history, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*ListItem, error) {
	if userID == "" {
		return nil, errors.ValidationError("user_id", "required")
	}
	items, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, errors.DatabaseError, "list submissions failed")
	}
	return items, nil
}

func (s *Service) getOwned(ctx context.Context, userID, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, errors.ValidationError("submission_id", "required")
	}
	if userID == "" {
		return nil, errors.ValidationError("user_id", "required")
	}
	sub, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		if stderrors.Is(err, ErrSubmissionNotFound) {
			return nil, errors.New(errors.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, errors.Wrapf(err, errors.DatabaseError, "get submission failed")
	}
	if sub.UserID != userID {
		return nil, errors.New(errors.Forbidden).WithMessage("submission belongs to another learner")
	}
	return sub, nil
}

func (s *Service) validateInput(input SubmitInput) error {
	if input.UserID == "" {
		return errors.ValidationError("user_id", "required")
	}
	if input.ProblemID <= 0 {
		return errors.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.LanguageID) == "" {
		return errors.ValidationError("language_id", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return errors.ValidationError("source_code", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return errors.New(errors.CodeTooLarge).WithMessage("source code too large")
	}
	if !s.languages.Supported(input.LanguageID) {
		return errors.Newf(errors.LanguageNotSupported, "language %s is not supported", input.LanguageID)
	}
	return nil
}

func (s *Service) checkRateLimit(ctx context.Context, userID string) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || s.rateLimit.UserMax <= 0 {
		return nil
	}
	key := rateUserKeyPrefix + userID
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		logger.Warn(ctx, "rate limit check failed", zap.Error(err))
		return nil
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > s.rateLimit.UserMax {
		return errors.New(errors.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}
