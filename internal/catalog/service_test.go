package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"skillsnap/pkg/errors"
)

type stubRepo struct {
	problems map[int64]*Problem
	err      error
}

func (r *stubRepo) GetByID(ctx context.Context, problemID int64) (*Problem, error) {
	if r.err != nil {
		return nil, r.err
	}
	problem, ok := r.problems[problemID]
	if !ok {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *stubRepo) List(ctx context.Context) ([]*Problem, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*Problem
	for _, problem := range r.problems {
		out = append(out, problem)
	}
	return out, nil
}

func sampleProblem() *Problem {
	return &Problem{
		ID:         42,
		Slug:       "reverse-string",
		Title:      "Reverse a String",
		Statement:  "Print the input reversed.",
		Difficulty: DifficultyEasy,
		Tags:       []string{"strings"},
		Examples: []Example{
			{Input: "abc\n", Output: "cba\n", Explanation: "reverse"},
		},
		HiddenCases: []TestCase{
			{Input: "racecar\n", Output: "racecar\n"},
			{Input: "go\n", Output: "og\n"},
		},
		Limits:         Limits{TimeLimitMs: 1000, MemoryLimitMB: 128},
		SampleSolution: "print(input()[::-1])",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestGetViewStripsHiddenCases(t *testing.T) {
	service := NewService(&stubRepo{problems: map[int64]*Problem{42: sampleProblem()}})

	view, err := service.GetView(context.Background(), 42)
	if err != nil {
		t.Fatalf("get view: %v", err)
	}
	if view.Title != "Reverse a String" || len(view.Examples) != 1 {
		t.Fatalf("view = %+v", view)
	}
	// The sample solution is part of the detail contract; hidden case
	// content is not.
	if view.SampleSolution != "print(input()[::-1])" {
		t.Fatalf("sample solution = %q", view.SampleSolution)
	}

	payload, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal view: %v", err)
	}
	for _, secret := range []string{"racecar", "hidden_cases"} {
		if strings.Contains(string(payload), secret) {
			t.Fatalf("view JSON leaks %q: %s", secret, payload)
		}
	}
}

func TestGetForGradingIncludesAllCases(t *testing.T) {
	service := NewService(&stubRepo{problems: map[int64]*Problem{42: sampleProblem()}})

	problem, err := service.GetForGrading(context.Background(), 42)
	if err != nil {
		t.Fatalf("get for grading: %v", err)
	}
	cases := problem.AllCases()
	if len(cases) != 3 {
		t.Fatalf("got %d cases, want 3", len(cases))
	}
	// Examples grade first, in authored order.
	if cases[0].Input != "abc\n" {
		t.Fatalf("first case input = %q, want the example", cases[0].Input)
	}
	if cases[1].Input != "racecar\n" || cases[2].Input != "go\n" {
		t.Fatalf("hidden cases out of order: %+v", cases[1:])
	}
}

func TestGetForGradingRejectsEmptyProblem(t *testing.T) {
	empty := sampleProblem()
	empty.Examples = nil
	empty.HiddenCases = nil
	service := NewService(&stubRepo{problems: map[int64]*Problem{42: empty}})

	_, err := service.GetForGrading(context.Background(), 42)
	if errors.GetCode(err) != errors.ProblemDataInvalid {
		t.Fatalf("error code = %d, want ProblemDataInvalid", errors.GetCode(err))
	}
}

func TestGetViewNotFound(t *testing.T) {
	service := NewService(&stubRepo{problems: map[int64]*Problem{}})

	_, err := service.GetView(context.Background(), 7)
	if errors.GetCode(err) != errors.ProblemNotFound {
		t.Fatalf("error code = %d, want ProblemNotFound", errors.GetCode(err))
	}

	_, err = service.GetView(context.Background(), 0)
	if errors.GetCode(err) != errors.InvalidParams {
		t.Fatalf("error code = %d, want InvalidParams", errors.GetCode(err))
	}
}

func TestExists(t *testing.T) {
	service := NewService(&stubRepo{problems: map[int64]*Problem{42: sampleProblem()}})

	ok, err := service.Exists(context.Background(), 42)
	if err != nil || !ok {
		t.Fatalf("exists(42) = %v, %v", ok, err)
	}
	ok, err = service.Exists(context.Background(), 7)
	if err != nil || ok {
		t.Fatalf("exists(7) = %v, %v", ok, err)
	}
}

func TestListSummaries(t *testing.T) {
	service := NewService(&stubRepo{problems: map[int64]*Problem{42: sampleProblem()}})

	summaries, err := service.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	payload, err := json.Marshal(summaries[0])
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	if strings.Contains(string(payload), "statement") || strings.Contains(string(payload), "Print the input") {
		t.Fatalf("summary JSON carries the statement: %s", payload)
	}
}
