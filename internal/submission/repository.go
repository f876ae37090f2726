package submission

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"skillsnap/internal/common/cache"
	"skillsnap/internal/common/db"
)

const (
	defaultSubmissionCacheTTL      = 10 * time.Minute
	defaultSubmissionCacheEmptyTTL = 2 * time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrTransitionConflict means the compare half of a status update
	// did not match: the record was not in any of the expected states.
	ErrTransitionConflict = errors.New("submission status transition conflict")
)

const submissionColumns = "submission_id, user_id, problem_id, language_id, source_key, source_hash, status, diagnostic, created_at, completed_at"

// Repository persists submissions. All status changes go through
// Transition, which is a compare-and-set on the status column.
type Repository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, submissionID string) (*Submission, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*ListItem, error)
	ListByStatus(ctx context.Context, status Status) ([]*Submission, error)
	Transition(ctx context.Context, submissionID string, from []Status, to Status, diagnostic string) error
	HasActive(ctx context.Context, userID string, problemID int64) (bool, error)
	ResetRunning(ctx context.Context, diagnostic string) (int64, error)
}

type MySQLRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewRepository(database db.Database, cacheClient cache.Cache) *MySQLRepository {
	return NewRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

func NewRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *MySQLRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submission id is required")
	}
	if submission.UserID == "" {
		return errors.New("user id is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problem id is required")
	}
	if submission.LanguageID == "" {
		return errors.New("language id is required")
	}
	if submission.SourceKey == "" {
		return errors.New("source key is required")
	}
	if submission.SourceHash == "" {
		return errors.New("source hash is required")
	}
	if submission.Status == "" {
		submission.Status = StatusPending
	}

	query := `
		INSERT INTO submissions
		(submission_id, user_id, problem_id, language_id, source_key, source_hash, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.ID,
		submission.UserID,
		submission.ProblemID,
		submission.LanguageID,
		submission.SourceKey,
		submission.SourceHash,
		string(submission.Status),
	)
	return err
}

func (r *MySQLRepository) GetByID(ctx context.Context, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submission id is required")
	}
	if r.cache != nil {
		submission, err := cache.GetWithCached[*Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*Submission, error) {
				submission, err := r.getByIDFromDB(ctx, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, submissionID)
}

func (r *MySQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*ListItem, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT s.submission_id, s.problem_id, COALESCE(p.title, ''), s.language_id, s.status, s.created_at, s.completed_at
		FROM submissions s
		LEFT JOIN problems p ON p.id = s.problem_id
		WHERE s.user_id = ?
		ORDER BY s.created_at DESC, s.submission_id DESC
		LIMIT ?
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ListItem
	for rows.Next() {
		item := &ListItem{}
		var status string
		var completedAt db.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.ProblemID,
			&item.ProblemTitle,
			&item.LanguageID,
			&status,
			&item.CreatedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		item.Status = Status(status)
		if completedAt.Valid {
			t := completedAt.Time
			item.CompletedAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *MySQLRepository) ListByStatus(ctx context.Context, status Status) ([]*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE status = ? ORDER BY created_at"
	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return submissions, nil
}

// Transition atomically moves a submission from any of the expected
// states to the target state. Exactly one concurrent caller with the
// same expectation can win; the rest get ErrTransitionConflict.
func (r *MySQLRepository) Transition(ctx context.Context, submissionID string, from []Status, to Status, diagnostic string) error {
	if submissionID == "" {
		return errors.New("submission id is required")
	}
	if len(from) == 0 {
		return errors.New("expected statuses are required")
	}
	if !to.Valid() {
		return errors.New("invalid target status")
	}

	placeholders := make([]string, 0, len(from))
	args := make([]interface{}, 0, len(from)+3)
	args = append(args, string(to), diagnostic, submissionID)
	for _, status := range from {
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}

	var query string
	if to.Terminal() {
		query = `
			UPDATE submissions
			SET status = ?, diagnostic = ?, completed_at = NOW()
			WHERE submission_id = ? AND status IN (` + strings.Join(placeholders, ", ") + `)`
	} else {
		query = `
			UPDATE submissions
			SET status = ?, diagnostic = ?
			WHERE submission_id = ? AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransitionConflict
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// HasActive reports whether the learner already has a non-terminal
// submission for the problem.
func (r *MySQLRepository) HasActive(ctx context.Context, userID string, problemID int64) (bool, error) {
	query := `
		SELECT COUNT(*) FROM submissions
		WHERE user_id = ? AND problem_id = ? AND status IN (?, ?)
	`
	row := r.db.QueryRow(ctx, query, userID, problemID, string(StatusPending), string(StatusRunning))
	var count int64
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ResetRunning marks every RUNNING submission INTERNAL_ERROR. Called
// once at boot, before workers start, to clear rows orphaned by a crash.
func (r *MySQLRepository) ResetRunning(ctx context.Context, diagnostic string) (int64, error) {
	query := `
		UPDATE submissions
		SET status = ?, diagnostic = ?, completed_at = NOW()
		WHERE status = ?
	`
	result, err := r.db.Exec(ctx, query, string(StatusInternalError), diagnostic, string(StatusRunning))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *MySQLRepository) getByIDFromDB(ctx context.Context, submissionID string) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := r.db.QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func scanSubmission(scanner db.Scanner) (*Submission, error) {
	submission := &Submission{}
	var (
		status      string
		diagnostic  db.NullString
		completedAt db.NullTime
	)
	if err := scanner.Scan(
		&submission.ID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.LanguageID,
		&submission.SourceKey,
		&submission.SourceHash,
		&status,
		&diagnostic,
		&submission.CreatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	submission.Status = Status(status)
	if diagnostic.Valid {
		submission.Diagnostic = diagnostic.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		submission.CompletedAt = &t
	}
	return submission, nil
}

func (r *MySQLRepository) invalidate(ctx context.Context, submissionID string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func marshalSubmission(submission *Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}
