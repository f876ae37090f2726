package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"skillsnap/internal/common/cache"
	"skillsnap/internal/common/db"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "catalog:problem:"
)

const problemColumns = "id, slug, title, statement, difficulty, tags, examples, hidden_cases, limits, sample_solution, created_at, updated_at"

var ErrProblemNotFound = errors.New("problem not found")

// Repository reads the problem catalog. The catalog is authored out of
// band; the evaluation pipeline only ever reads it.
type Repository interface {
	GetByID(ctx context.Context, problemID int64) (*Problem, error)
	List(ctx context.Context) ([]*Problem, error)
}

type MySQLRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewRepository(database db.Database, cacheClient cache.Cache) *MySQLRepository {
	return NewRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *MySQLRepository) GetByID(ctx context.Context, problemID int64) (*Problem, error) {
	if r.cache != nil {
		problem, err := cache.GetWithCached[*Problem](
			ctx,
			r.cache,
			problemKey(problemID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(p *Problem) bool { return p == nil || p.ID == 0 },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (*Problem, error) {
				problem, err := r.getByIDFromDB(ctx, problemID)
				if err != nil {
					if errors.Is(err, ErrProblemNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return problem, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if problem == nil || problem.ID == 0 {
			return nil, ErrProblemNotFound
		}
		return problem, nil
	}
	return r.getByIDFromDB(ctx, problemID)
}

func (r *MySQLRepository) List(ctx context.Context) ([]*Problem, error) {
	query := "SELECT " + problemColumns + " FROM problems ORDER BY id"
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []*Problem
	for rows.Next() {
		problem, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		problems = append(problems, problem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return problems, nil
}

func (r *MySQLRepository) getByIDFromDB(ctx context.Context, problemID int64) (*Problem, error) {
	query := "SELECT " + problemColumns + " FROM problems WHERE id = ?"
	row := r.db.QueryRow(ctx, query, problemID)
	problem, err := scanProblem(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

func scanProblem(scanner db.Scanner) (*Problem, error) {
	var (
		problem         Problem
		tagsJSON        string
		examplesJSON    string
		hiddenCasesJSON string
		limitsJSON      string
		sampleSolution  db.NullString
	)
	err := scanner.Scan(
		&problem.ID,
		&problem.Slug,
		&problem.Title,
		&problem.Statement,
		&problem.Difficulty,
		&tagsJSON,
		&examplesJSON,
		&hiddenCasesJSON,
		&limitsJSON,
		&sampleSolution,
		&problem.CreatedAt,
		&problem.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(tagsJSON, &problem.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(examplesJSON, &problem.Examples); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(hiddenCasesJSON, &problem.HiddenCases); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(limitsJSON, &problem.Limits); err != nil {
		return nil, err
	}
	if sampleSolution.Valid {
		problem.SampleSolution = sampleSolution.String
	}
	return &problem, nil
}

func decodeJSONColumn(data string, dest interface{}) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), dest)
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

// cachedProblem carries the hidden grading data through the cache; the
// Problem JSON tags deliberately omit it.
type cachedProblem struct {
	Problem        *Problem   `json:"problem"`
	HiddenCases    []TestCase `json:"hidden_cases"`
	SampleSolution string     `json:"sample_solution,omitempty"`
}

func marshalProblem(p *Problem) string {
	payload, err := json.Marshal(cachedProblem{
		Problem:        p,
		HiddenCases:    p.HiddenCases,
		SampleSolution: p.SampleSolution,
	})
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (*Problem, error) {
	if data == "" {
		return nil, nil
	}
	var cached cachedProblem
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, err
	}
	if cached.Problem == nil {
		return nil, nil
	}
	cached.Problem.HiddenCases = cached.HiddenCases
	cached.Problem.SampleSolution = cached.SampleSolution
	return cached.Problem, nil
}
