package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"skillsnap/internal/catalog"
	"skillsnap/internal/judge/lang"
	"skillsnap/internal/judge/sandbox"
	"skillsnap/internal/submission"
)

type fakeProblemSource struct {
	problem *catalog.Problem
	err     error
}

func (f *fakeProblemSource) GetForGrading(ctx context.Context, problemID int64) (*catalog.Problem, error) {
	return f.problem, f.err
}

type fakeSourceFetcher struct {
	source string
	err    error
}

func (f *fakeSourceFetcher) Fetch(ctx context.Context, key, expectedHash string) (string, error) {
	return f.source, f.err
}

// fakeSandbox replays scripted executions in call order.
type fakeSandbox struct {
	executions []sandbox.Execution
	errs       []error
	calls      []sandbox.RunSpec
}

func (f *fakeSandbox) Run(ctx context.Context, runSpec sandbox.RunSpec) (sandbox.Execution, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, runSpec)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return sandbox.Execution{}, f.errs[idx]
	}
	if idx < len(f.executions) {
		return f.executions[idx], nil
	}
	return sandbox.Execution{}, nil
}

func (f *fakeSandbox) KillSubmission(ctx context.Context, submissionID string) error {
	return nil
}

func (f *fakeSandbox) runCalls() []sandbox.RunSpec {
	runs := make([]sandbox.RunSpec, 0, len(f.calls))
	for _, call := range f.calls {
		if call.RunID != "compile" {
			runs = append(runs, call)
		}
	}
	return runs
}

func testProblem(examples, hidden int) *catalog.Problem {
	problem := &catalog.Problem{ID: 7, Slug: "sum", Title: "Sum"}
	for i := 0; i < examples; i++ {
		problem.Examples = append(problem.Examples, catalog.Example{Input: "1 2\n", Output: "3\n"})
	}
	for i := 0; i < hidden; i++ {
		problem.HiddenCases = append(problem.HiddenCases, catalog.TestCase{Input: "5 5\n", Output: "10\n"})
	}
	return problem
}

func testEngine(t *testing.T, problem *catalog.Problem, sandboxEngine sandbox.Engine) *Engine {
	t.Helper()
	registry, err := lang.NewRegistry(lang.Builtin())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return NewEngine(
		Config{WorkRoot: t.TempDir()},
		&fakeProblemSource{problem: problem},
		registry,
		sandboxEngine,
		&fakeSourceFetcher{source: "print(input())"},
		nil,
	)
}

func testSubmission(languageID string) *submission.Submission {
	return &submission.Submission{
		ID:         "sub-1",
		UserID:     "learner-1",
		ProblemID:  7,
		LanguageID: languageID,
		SourceKey:  "sources/sub-1.zst",
		Status:     submission.StatusRunning,
	}
}

func passExecutions(n int) []sandbox.Execution {
	out := make([]sandbox.Execution, n)
	for i := range out {
		out[i] = sandbox.Execution{ExitCode: 0, Stdout: "3\n"}
	}
	return out
}

func TestEvaluateAllPass(t *testing.T) {
	problem := testProblem(2, 3)
	sb := &fakeSandbox{executions: passExecutions(5)}
	for i := range sb.executions {
		if i >= 2 {
			sb.executions[i].Stdout = "10\n"
		}
	}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED (diagnostic: %s)", outcome.Status, outcome.Diagnostic)
	}
	if outcome.TestsRun != 5 || outcome.TotalTests != 5 {
		t.Fatalf("tests run = %d/%d, want 5/5", outcome.TestsRun, outcome.TotalTests)
	}
	if got := len(sb.runCalls()); got != 5 {
		t.Fatalf("sandbox invocations = %d, want 5", got)
	}
}

func TestEvaluateFailFastOnTimeout(t *testing.T) {
	problem := testProblem(2, 3)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: 0, Stdout: "3\n"},
		{ExitCode: -1, TimedOut: true},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusTimeLimitExceeded {
		t.Fatalf("status = %s, want TIME_LIMIT_EXCEEDED", outcome.Status)
	}
	if got := len(sb.runCalls()); got != 2 {
		t.Fatalf("sandbox invocations = %d, want 2 (later tests must not run)", got)
	}
	if outcome.TestsRun != 2 {
		t.Fatalf("tests run = %d, want 2", outcome.TestsRun)
	}
	if !strings.Contains(outcome.Diagnostic, "test 2") {
		t.Fatalf("diagnostic %q should name the failing test", outcome.Diagnostic)
	}
}

func TestEvaluateCompileErrorSkipsRuns(t *testing.T) {
	problem := testProblem(1, 2)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: 1, Stderr: "main.cpp:1:1: error: expected unqualified-id"},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("cpp"))
	if outcome.Status != submission.StatusCompileError {
		t.Fatalf("status = %s, want COMPILE_ERROR", outcome.Status)
	}
	if got := len(sb.runCalls()); got != 0 {
		t.Fatalf("sandbox run invocations = %d, want 0 after compile failure", got)
	}
	if !strings.Contains(outcome.Diagnostic, "error: expected unqualified-id") {
		t.Fatalf("diagnostic %q should carry compiler output", outcome.Diagnostic)
	}
}

func TestEvaluateTimeoutBeatsWrongAnswer(t *testing.T) {
	problem := testProblem(1, 0)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: -1, TimedOut: true, Stdout: "wrong\n"},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusTimeLimitExceeded {
		t.Fatalf("status = %s, want TIME_LIMIT_EXCEEDED to win over WRONG_ANSWER", outcome.Status)
	}
}

func TestEvaluateMemoryBeatsRuntimeError(t *testing.T) {
	problem := testProblem(1, 0)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: 137, OomKilled: true},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusMemoryLimitExceeded {
		t.Fatalf("status = %s, want MEMORY_LIMIT_EXCEEDED to win over RUNTIME_ERROR", outcome.Status)
	}
}

func TestEvaluateRuntimeError(t *testing.T) {
	problem := testProblem(1, 0)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: 2, Stderr: "Traceback (most recent call last)"},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusRuntimeError {
		t.Fatalf("status = %s, want RUNTIME_ERROR", outcome.Status)
	}
}

func TestEvaluateHiddenCaseDiagnosticStaysOpaque(t *testing.T) {
	problem := testProblem(1, 1)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: 0, Stdout: "3\n"},
		{ExitCode: 0, Stdout: "11\n"},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER", outcome.Status)
	}
	if strings.Contains(outcome.Diagnostic, "10") || strings.Contains(outcome.Diagnostic, "5 5") {
		t.Fatalf("diagnostic %q leaks hidden case data", outcome.Diagnostic)
	}
}

func TestEvaluateVisibleCaseDiagnosticShowsExpected(t *testing.T) {
	problem := testProblem(1, 0)
	sb := &fakeSandbox{executions: []sandbox.Execution{
		{ExitCode: 0, Stdout: "4\n"},
	}}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER", outcome.Status)
	}
	if !strings.Contains(outcome.Diagnostic, "3") || !strings.Contains(outcome.Diagnostic, "4") {
		t.Fatalf("diagnostic %q should show expected and actual for a visible example", outcome.Diagnostic)
	}
}

func TestEvaluateSandboxFailureIsInternal(t *testing.T) {
	problem := testProblem(2, 0)
	sb := &fakeSandbox{
		executions: []sandbox.Execution{{ExitCode: 0, Stdout: "3\n"}},
		errs:       []error{nil, errors.New("cgroup create failed")},
	}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusInternalError {
		t.Fatalf("status = %s, want INTERNAL_ERROR", outcome.Status)
	}
	if got := len(sb.runCalls()); got != 2 {
		t.Fatalf("sandbox invocations = %d, want 2 (no retry)", got)
	}
}

func TestEvaluateUnknownLanguageIsInternal(t *testing.T) {
	problem := testProblem(1, 0)
	sb := &fakeSandbox{}
	engine := testEngine(t, problem, sb)

	outcome := engine.Evaluate(context.Background(), testSubmission("cobol"))
	if outcome.Status != submission.StatusInternalError {
		t.Fatalf("status = %s, want INTERNAL_ERROR", outcome.Status)
	}
	if len(sb.calls) != 0 {
		t.Fatalf("sandbox must not be invoked for an unknown language")
	}
}

func TestEvaluateProblemLoadFailureIsInternal(t *testing.T) {
	registry, err := lang.NewRegistry(lang.Builtin())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	sb := &fakeSandbox{}
	engine := NewEngine(
		Config{WorkRoot: t.TempDir()},
		&fakeProblemSource{err: errors.New("database gone")},
		registry,
		sb,
		&fakeSourceFetcher{source: "x"},
		nil,
	)

	outcome := engine.Evaluate(context.Background(), testSubmission("python"))
	if outcome.Status != submission.StatusInternalError {
		t.Fatalf("status = %s, want INTERNAL_ERROR", outcome.Status)
	}
}
