// Package scheduler feeds accepted submissions to the judge through a
// bounded FIFO queue and a fixed-size worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"skillsnap/internal/judge"
	"skillsnap/internal/submission"
	"skillsnap/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultQueueCapacity = 256
	defaultWorkers       = 4
)

var (
	// ErrQueueFull means the pending queue is at capacity and the
	// submission was not enqueued.
	ErrQueueFull = errors.New("evaluation queue is full")

	// ErrStopped means the scheduler is shutting down.
	ErrStopped = errors.New("scheduler is stopped")
)

// Evaluator runs one full evaluation to a terminal outcome.
type Evaluator interface {
	Evaluate(ctx context.Context, sub *submission.Submission) judge.Outcome
}

// Killer stops in-flight sandbox runs for a submission.
type Killer interface {
	KillSubmission(ctx context.Context, submissionID string) error
}

// Config controls queue and worker sizing.
type Config struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
}

// Scheduler owns the submission queue and worker pool. Exactly one
// worker evaluates a given submission; a crashed evaluation leaves an
// INTERNAL_ERROR verdict, never a stuck RUNNING row.
type Scheduler struct {
	cfg      Config
	repo     submission.Repository
	eval     Evaluator
	killer   Killer
	events   *judge.EventPublisher
	progress *judge.ProgressReporter

	queue chan string

	mu        sync.Mutex
	cancelled map[string]struct{}
	running   map[string]context.CancelFunc
	stopped   bool

	wg       sync.WaitGroup
	baseCtx  context.Context
	baseStop context.CancelFunc
}

func New(cfg Config, repo submission.Repository, eval Evaluator, killer Killer, events *judge.EventPublisher, progress *judge.ProgressReporter) *Scheduler {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	baseCtx, baseStop := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		repo:      repo,
		eval:      eval,
		killer:    killer,
		events:    events,
		progress:  progress,
		queue:     make(chan string, cfg.QueueCapacity),
		cancelled: make(map[string]struct{}),
		running:   make(map[string]context.CancelFunc),
		baseCtx:   baseCtx,
		baseStop:  baseStop,
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}
}

// Stop drains nothing: queued submissions stay PENDING in the database
// and are re-enqueued by Recover on the next boot. Workers finish their
// current evaluation before returning.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Force in-flight evaluations to stop.
		s.baseStop()
		<-done
	}
	s.baseStop()
	return nil
}

// Enqueue adds a submission to the queue without blocking. The send
// happens under the mutex: Stop flips stopped before closing the queue
// while holding the same lock, so a send can never hit a closed channel.
func (s *Scheduler) Enqueue(submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	select {
	case s.queue <- submissionID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Backlog returns the number of queued submissions.
func (s *Scheduler) Backlog() int {
	return len(s.queue)
}

// Capacity returns the queue capacity.
func (s *Scheduler) Capacity() int {
	return s.cfg.QueueCapacity
}

// Retract cancels a submission. A queued submission is finalized
// immediately; a running one has its evaluation context cancelled and
// its sandbox runs killed, after which the worker records the verdict.
func (s *Scheduler) Retract(ctx context.Context, submissionID string) error {
	s.mu.Lock()
	if cancel, ok := s.running[submissionID]; ok {
		s.cancelled[submissionID] = struct{}{}
		s.mu.Unlock()
		cancel()
		if s.killer != nil {
			_ = s.killer.KillSubmission(ctx, submissionID)
		}
		return nil
	}
	s.cancelled[submissionID] = struct{}{}
	s.mu.Unlock()

	err := s.repo.Transition(ctx, submissionID,
		[]submission.Status{submission.StatusPending},
		submission.StatusInternalError, "cancelled before evaluation")
	if err != nil {
		s.mu.Lock()
		delete(s.cancelled, submissionID)
		s.mu.Unlock()
		return err
	}
	s.finalized(ctx, submissionID)
	return nil
}

// Recover repairs state after an unclean shutdown: RUNNING rows are
// finalized as INTERNAL_ERROR and PENDING rows are re-enqueued. Must be
// called before Start.
func (s *Scheduler) Recover(ctx context.Context) error {
	reset, err := s.repo.ResetRunning(ctx, "evaluator restarted during evaluation")
	if err != nil {
		return fmt.Errorf("reset running submissions: %w", err)
	}
	if reset > 0 {
		logger.Warn(ctx, "reset orphaned running submissions", zap.Int64("count", reset))
	}

	pending, err := s.repo.ListByStatus(ctx, submission.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending submissions: %w", err)
	}
	for _, sub := range pending {
		if err := s.Enqueue(sub.ID); err != nil {
			// Queue smaller than the backlog; finalize the overflow
			// rather than leaving rows in limbo.
			_ = s.repo.Transition(ctx, sub.ID,
				[]submission.Status{submission.StatusPending},
				submission.StatusInternalError, "evaluation queue overflow during recovery")
		}
	}
	return nil
}

func (s *Scheduler) workerLoop(worker int) {
	defer s.wg.Done()
	for submissionID := range s.queue {
		s.process(submissionID, worker)
	}
}

func (s *Scheduler) process(submissionID string, worker int) {
	ctx := s.baseCtx

	s.mu.Lock()
	if _, ok := s.cancelled[submissionID]; ok {
		delete(s.cancelled, submissionID)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	sub, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		logger.Error(ctx, "load queued submission failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	if err := s.repo.Transition(ctx, submissionID,
		[]submission.Status{submission.StatusPending}, submission.StatusRunning, ""); err != nil {
		if errors.Is(err, submission.ErrTransitionConflict) {
			// Already claimed or finalized elsewhere.
			s.mu.Lock()
			delete(s.cancelled, submissionID)
			s.mu.Unlock()
			return
		}
		logger.Error(ctx, "mark submission running failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	evalCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[submissionID] = cancel
	s.mu.Unlock()

	outcome := s.evaluate(evalCtx, sub)

	s.mu.Lock()
	delete(s.running, submissionID)
	wasCancelled := false
	if _, ok := s.cancelled[submissionID]; ok {
		delete(s.cancelled, submissionID)
		wasCancelled = true
	}
	s.mu.Unlock()
	cancel()

	if wasCancelled {
		outcome = judge.Outcome{
			Status:     submission.StatusInternalError,
			Diagnostic: "cancelled during evaluation",
		}
	}

	s.finalize(ctx, sub, outcome, worker)
}

// evaluate shields the worker from a panicking evaluation.
func (s *Scheduler) evaluate(ctx context.Context, sub *submission.Submission) (outcome judge.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "evaluation panicked",
				zap.String("submission_id", sub.ID), zap.Any("panic", r))
			outcome = judge.Outcome{
				Status:     submission.StatusInternalError,
				Diagnostic: "evaluation aborted unexpectedly",
			}
		}
	}()
	return s.eval.Evaluate(ctx, sub)
}

func (s *Scheduler) finalize(ctx context.Context, sub *submission.Submission, outcome judge.Outcome, worker int) {
	err := s.repo.Transition(ctx, sub.ID,
		[]submission.Status{submission.StatusRunning}, outcome.Status, outcome.Diagnostic)
	if err != nil {
		if errors.Is(err, submission.ErrTransitionConflict) {
			// Someone else finalized it; their verdict stands.
			return
		}
		logger.Error(ctx, "record verdict failed",
			zap.String("submission_id", sub.ID), zap.String("status", string(outcome.Status)), zap.Error(err))
		return
	}

	logger.Info(ctx, "submission evaluated",
		zap.String("submission_id", sub.ID),
		zap.String("status", string(outcome.Status)),
		zap.Int("tests_run", outcome.TestsRun),
		zap.Int("worker", worker))

	s.finalized(ctx, sub.ID)
	if s.events != nil {
		s.events.PublishVerdict(ctx, judge.VerdictEvent{
			SubmissionID: sub.ID,
			UserID:       sub.UserID,
			ProblemID:    sub.ProblemID,
			LanguageID:   sub.LanguageID,
			Status:       outcome.Status,
			Diagnostic:   outcome.Diagnostic,
			FinishedAt:   time.Now(),
		})
	}
}

func (s *Scheduler) finalized(ctx context.Context, submissionID string) {
	if s.progress != nil {
		s.progress.Clear(ctx, submissionID)
	}
}
