package catalog

import (
	"context"
	stderrors "errors"

	"skillsnap/pkg/errors"
)

// Service exposes catalog reads. Learner-facing calls strip hidden
// grading data; the judge uses GetForGrading to see all of it.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetView returns the learner-facing projection of a problem.
func (s *Service) GetView(ctx context.Context, problemID int64) (*View, error) {
	problem, err := s.get(ctx, problemID)
	if err != nil {
		return nil, err
	}
	return problem.ToView(), nil
}

// List returns summaries of all published problems.
func (s *Service) List(ctx context.Context) ([]*Summary, error) {
	problems, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, errors.DatabaseError, "list problems")
	}
	summaries := make([]*Summary, 0, len(problems))
	for _, problem := range problems {
		summaries = append(summaries, problem.ToSummary())
	}
	return summaries, nil
}

// GetForGrading returns the full problem including hidden cases, after
// validating the grading data is usable.
func (s *Service) GetForGrading(ctx context.Context, problemID int64) (*Problem, error) {
	problem, err := s.get(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if len(problem.AllCases()) == 0 {
		return nil, errors.Newf(errors.ProblemDataInvalid, "problem %d has no test cases", problemID)
	}
	return problem, nil
}

// Exists reports whether the problem is in the catalog.
func (s *Service) Exists(ctx context.Context, problemID int64) (bool, error) {
	_, err := s.repo.GetByID(ctx, problemID)
	if err != nil {
		if stderrors.Is(err, ErrProblemNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, errors.DatabaseError, "get problem")
	}
	return true, nil
}

func (s *Service) get(ctx context.Context, problemID int64) (*Problem, error) {
	if problemID <= 0 {
		return nil, errors.New(errors.InvalidParams).WithMessage("problem id must be positive")
	}
	problem, err := s.repo.GetByID(ctx, problemID)
	if err != nil {
		if stderrors.Is(err, ErrProblemNotFound) {
			return nil, errors.Newf(errors.ProblemNotFound, "problem %d not found", problemID)
		}
		return nil, errors.Wrapf(err, errors.DatabaseError, "get problem")
	}
	return problem, nil
}
