package judge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skillsnap/internal/catalog"
	"skillsnap/internal/judge/lang"
	"skillsnap/internal/judge/sandbox"
	"skillsnap/internal/submission"
	"skillsnap/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultWorkRoot           = "/var/lib/skillsnap/work"
	defaultDiagnosticMaxBytes = 2048

	compileMemoryLimitMB = 1024
	compileOutputMB      = 16
	runOutputMB          = 64
	runPIDs              = 64
	runStackMB           = 64
)

// ProblemSource supplies grading data for a problem.
type ProblemSource interface {
	GetForGrading(ctx context.Context, problemID int64) (*catalog.Problem, error)
}

// SourceFetcher retrieves the stored source for a submission.
type SourceFetcher interface {
	Fetch(ctx context.Context, key, expectedHash string) (string, error)
}

// Outcome is the result of one full evaluation.
type Outcome struct {
	Status     submission.Status
	Diagnostic string
	TestsRun   int
	TotalTests int
}

// Config controls evaluation behavior.
type Config struct {
	WorkRoot           string `yaml:"work_root"`
	ContainerWorkDir   string `yaml:"container_work_dir"`
	DiagnosticMaxBytes int    `yaml:"diagnostic_max_bytes"`
}

// Engine evaluates one submission at a time: compile once, then run
// every test case in order, stopping at the first failure.
type Engine struct {
	cfg      Config
	problems ProblemSource
	registry *lang.Registry
	sandbox  sandbox.Engine
	sources  SourceFetcher
	progress *ProgressReporter
}

func NewEngine(cfg Config, problems ProblemSource, registry *lang.Registry, sandboxEngine sandbox.Engine, sources SourceFetcher, progress *ProgressReporter) *Engine {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = defaultWorkRoot
	}
	if cfg.DiagnosticMaxBytes <= 0 {
		cfg.DiagnosticMaxBytes = defaultDiagnosticMaxBytes
	}
	return &Engine{
		cfg:      cfg,
		problems: problems,
		registry: registry,
		sandbox:  sandboxEngine,
		sources:  sources,
		progress: progress,
	}
}

// Evaluate runs a submission against its problem's test cases and
// returns a terminal outcome. It never returns a non-terminal status:
// infrastructure failures become INTERNAL_ERROR, not an error.
func (e *Engine) Evaluate(ctx context.Context, sub *submission.Submission) Outcome {
	descriptor, ok := e.registry.Resolve(sub.LanguageID)
	if !ok {
		return internalOutcome(fmt.Sprintf("language %s is not configured", sub.LanguageID))
	}

	problem, err := e.problems.GetForGrading(ctx, sub.ProblemID)
	if err != nil {
		logger.Error(ctx, "load problem for grading failed",
			zap.String("submission_id", sub.ID), zap.Int64("problem_id", sub.ProblemID), zap.Error(err))
		return internalOutcome("failed to load problem data")
	}

	source, err := e.sources.Fetch(ctx, sub.SourceKey, sub.SourceHash)
	if err != nil {
		logger.Error(ctx, "fetch source failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return internalOutcome("failed to load submitted source")
	}

	workDir, cleanup, err := e.prepareWorkspace(sub.ID, descriptor, source)
	if err != nil {
		logger.Error(ctx, "prepare workspace failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return internalOutcome("failed to prepare evaluation workspace")
	}
	defer cleanup()

	cases := problem.AllCases()
	total := len(cases)
	e.report(ctx, sub.ID, submission.StatusRunning, 0, total)

	if descriptor.Compiled() {
		outcome, ok := e.compile(ctx, sub, descriptor, workDir)
		if !ok {
			outcome.TotalTests = total
			return outcome
		}
	}

	limits := runLimits(descriptor, problem.Limits)
	visible := len(problem.Examples)
	for i, testCase := range cases {
		if err := ctx.Err(); err != nil {
			return internalOutcome("evaluation cancelled")
		}
		execution, err := e.runCase(ctx, sub, descriptor, workDir, i, testCase.Input, limits)
		if err != nil {
			logger.Error(ctx, "sandbox run failed",
				zap.String("submission_id", sub.ID), zap.Int("test", i+1), zap.Error(err))
			return Outcome{
				Status:     submission.StatusInternalError,
				Diagnostic: fmt.Sprintf("test %d: sandbox failure", i+1),
				TestsRun:   i,
				TotalTests: total,
			}
		}

		if status, detail := e.classify(execution, testCase.Output, limits, i < visible); status != submission.StatusAccepted {
			return Outcome{
				Status:     status,
				Diagnostic: e.truncate(fmt.Sprintf("test %d: %s", i+1, detail)),
				TestsRun:   i + 1,
				TotalTests: total,
			}
		}
		e.report(ctx, sub.ID, submission.StatusRunning, i+1, total)
	}

	return Outcome{Status: submission.StatusAccepted, TestsRun: total, TotalTests: total}
}

func (e *Engine) compile(ctx context.Context, sub *submission.Submission, descriptor *lang.Descriptor, workDir string) (Outcome, bool) {
	cmd, err := descriptor.CompileCommand(e.sandboxWorkDir(workDir))
	if err != nil {
		return internalOutcome("invalid compile command"), false
	}
	runSpec := e.baseRunSpec(sub.ID, "compile", workDir, cmd)
	runSpec.StderrPath = e.sandboxPath(workDir, "compile.err")
	runSpec.Limits = sandbox.ResourceLimit{
		CPUTimeMs:  descriptor.CompileTimeoutMs,
		WallTimeMs: 2 * descriptor.CompileTimeoutMs,
		MemoryMB:   compileMemoryLimitMB,
		OutputMB:   compileOutputMB,
		PIDs:       runPIDs,
	}

	execution, err := e.sandbox.Run(ctx, runSpec)
	if err != nil {
		logger.Error(ctx, "compile run failed", zap.String("submission_id", sub.ID), zap.Error(err))
		return internalOutcome("compile: sandbox failure"), false
	}
	if execution.TimedOut {
		return Outcome{
			Status:     submission.StatusCompileError,
			Diagnostic: "compilation timed out",
		}, false
	}
	if execution.ExitCode != 0 {
		detail := strings.TrimSpace(execution.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("compiler exited with code %d", execution.ExitCode)
		}
		return Outcome{
			Status:     submission.StatusCompileError,
			Diagnostic: e.truncate(detail),
		}, false
	}
	return Outcome{}, true
}

func (e *Engine) runCase(ctx context.Context, sub *submission.Submission, descriptor *lang.Descriptor, workDir string, index int, input string, limits sandbox.ResourceLimit) (sandbox.Execution, error) {
	stdinHost := filepath.Join(workDir, fmt.Sprintf("in_%d.txt", index))
	if err := os.WriteFile(stdinHost, []byte(input), 0644); err != nil {
		return sandbox.Execution{}, fmt.Errorf("write stdin file: %w", err)
	}

	cmd, err := descriptor.RunCommand(e.sandboxWorkDir(workDir))
	if err != nil {
		return sandbox.Execution{}, err
	}

	runSpec := e.baseRunSpec(sub.ID, fmt.Sprintf("run-%d", index), workDir, cmd)
	runSpec.StdinPath = e.sandboxPath(workDir, fmt.Sprintf("in_%d.txt", index))
	runSpec.StdoutPath = e.sandboxPath(workDir, fmt.Sprintf("out_%d.txt", index))
	runSpec.StderrPath = e.sandboxPath(workDir, fmt.Sprintf("err_%d.txt", index))
	runSpec.Limits = limits

	return e.sandbox.Run(ctx, runSpec)
}

// classify turns one execution into a verdict. Precedence: time limit
// over memory limit over runtime error over wrong answer.
func (e *Engine) classify(execution sandbox.Execution, expected string, limits sandbox.ResourceLimit, visible bool) (submission.Status, string) {
	switch {
	case execution.TimedOut:
		return submission.StatusTimeLimitExceeded,
			fmt.Sprintf("exceeded time limit of %d ms", limits.CPUTimeMs)
	case execution.OomKilled || (limits.MemoryMB > 0 && execution.MemoryKB > limits.MemoryMB*1024):
		return submission.StatusMemoryLimitExceeded,
			fmt.Sprintf("exceeded memory limit of %d MB", limits.MemoryMB)
	case execution.ExitCode != 0:
		detail := fmt.Sprintf("exited with code %d", execution.ExitCode)
		if stderr := strings.TrimSpace(execution.Stderr); stderr != "" {
			detail += ": " + stderr
		}
		return submission.StatusRuntimeError, detail
	case !OutputsMatch(expected, execution.Stdout):
		if visible {
			return submission.StatusWrongAnswer,
				fmt.Sprintf("expected %q, got %q", excerpt(expected), excerpt(execution.Stdout))
		}
		// Hidden case contents stay hidden.
		return submission.StatusWrongAnswer, "output mismatch"
	}
	return submission.StatusAccepted, ""
}

func (e *Engine) prepareWorkspace(submissionID string, descriptor *lang.Descriptor, source string) (string, func(), error) {
	workDir := filepath.Join(e.cfg.WorkRoot, submissionID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }
	if err := os.WriteFile(filepath.Join(workDir, descriptor.SourceFile), []byte(source), 0644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write source file: %w", err)
	}
	return workDir, cleanup, nil
}

func (e *Engine) baseRunSpec(submissionID, runID, workDir string, cmd []string) sandbox.RunSpec {
	runSpec := sandbox.RunSpec{
		SubmissionID: submissionID,
		RunID:        runID,
		WorkDir:      e.sandboxWorkDir(workDir),
		Cmd:          cmd,
	}
	if e.cfg.ContainerWorkDir != "" {
		runSpec.BindMounts = []sandbox.MountSpec{{
			Source: workDir,
			Target: e.cfg.ContainerWorkDir,
		}}
	}
	return runSpec
}

// sandboxWorkDir is the work directory as the sandboxed process sees it.
func (e *Engine) sandboxWorkDir(workDir string) string {
	if e.cfg.ContainerWorkDir != "" {
		return e.cfg.ContainerWorkDir
	}
	return workDir
}

func (e *Engine) sandboxPath(workDir, name string) string {
	return filepath.Join(e.sandboxWorkDir(workDir), name)
}

func (e *Engine) report(ctx context.Context, submissionID string, status submission.Status, done, total int) {
	if e.progress == nil {
		return
	}
	e.progress.Report(ctx, Progress{
		SubmissionID: submissionID,
		Status:       status,
		CurrentTest:  done,
		TotalTests:   total,
	})
}

func (e *Engine) truncate(s string) string {
	if len(s) <= e.cfg.DiagnosticMaxBytes {
		return s
	}
	return s[:e.cfg.DiagnosticMaxBytes] + "..."
}

func runLimits(descriptor *lang.Descriptor, overrides catalog.Limits) sandbox.ResourceLimit {
	cpuMs := descriptor.RunTimeoutMs
	if overrides.TimeLimitMs > 0 {
		cpuMs = overrides.TimeLimitMs
	}
	memMB := descriptor.MemoryLimitMB
	if overrides.MemoryLimitMB > 0 {
		memMB = overrides.MemoryLimitMB
	}
	return sandbox.ResourceLimit{
		CPUTimeMs:  cpuMs,
		WallTimeMs: 2*cpuMs + 1000,
		MemoryMB:   memMB,
		StackMB:    runStackMB,
		OutputMB:   runOutputMB,
		PIDs:       runPIDs,
	}
}

func internalOutcome(diagnostic string) Outcome {
	return Outcome{Status: submission.StatusInternalError, Diagnostic: diagnostic}
}

func excerpt(s string) string {
	const max = 120
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
