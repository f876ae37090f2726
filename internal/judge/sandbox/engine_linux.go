//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"skillsnap/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultStdoutStderrMaxBytes int64 = 64 * 1024

type linuxEngine struct {
	cfg       Config
	registry  map[string][]string
	registryM sync.Mutex
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	return &linuxEngine{
		cfg:      cfg,
		registry: make(map[string][]string),
	}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec RunSpec) (Execution, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return Execution{}, err
	}

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		var err error
		cg, err = newRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.RunID)
		if err != nil {
			return Execution{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := cg.applyLimits(runSpec.Limits); err != nil {
			cg.remove()
			return Execution{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
		e.registerCgroup(runSpec.SubmissionID, cg.path)
		defer func() {
			e.unregisterCgroup(runSpec.SubmissionID, cg.path)
			cg.remove()
		}()
	}

	initReq := initRequest{
		RunSpec:       runSpec,
		Isolation:     e.cfg.isolation(),
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	}

	stdinPipe, err := jsonToPipe(initReq)
	if err != nil {
		return Execution{}, fmt.Errorf("encode init request: %w", err)
	}
	defer stdinPipe.Close()

	cmd := exec.CommandContext(ctx, e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(e.cfg.isolation(), e.cfg.EnableNamespaces)
	cmd.Stdin = stdinPipe

	var helperStderr bytes.Buffer
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Execution{}, fmt.Errorf("start helper: %w", err)
	}

	if cg != nil {
		if err := cg.attach(cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cg.path), zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	killCtx, cancelKill := context.WithCancel(ctx)
	defer cancelKill()

	done := make(chan struct{})
	go func() {
		wallLimit := durationFromMs(runSpec.Limits.WallTimeMs)
		var wallTimer <-chan time.Time
		if wallLimit > 0 {
			wallTimer = time.After(wallLimit)
		}
		select {
		case <-killCtx.Done():
			e.killProcessGroup(cmd.Process.Pid)
		case <-wallTimer:
			timedOut.Store(true)
			e.killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	if waitErr != nil && helperStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox helper failed", zap.String("stderr", helperStderr.String()))
	}

	wallTimeMs := time.Since(start).Milliseconds()
	stdoutPath := resolveHostPath(runSpec.StdoutPath, runSpec)
	stderrPath := resolveHostPath(runSpec.StderrPath, runSpec)
	execution := Execution{
		ExitCode:   exitCodeFromErr(waitErr, cmd.ProcessState),
		TimeMs:     cpuTimeMs(cmd.ProcessState),
		WallTimeMs: wallTimeMs,
		MemoryKB:   peakMemoryKB(cg, cmd.ProcessState),
		OutputKB:   fileSizeKB(stdoutPath),
		Stdout:     readLimitedFile(stdoutPath, e.cfg.StdoutStderrMaxBytes),
		Stderr:     readLimitedFile(stderrPath, e.cfg.StdoutStderrMaxBytes),
		OomKilled:  cg != nil && cg.oomKilled(),
	}

	if timedOut.Load() {
		execution.TimedOut = true
		if execution.ExitCode == 0 {
			execution.ExitCode = -1
		}
	}
	if runSpec.Limits.CPUTimeMs > 0 && execution.TimeMs > runSpec.Limits.CPUTimeMs {
		execution.TimedOut = true
	}
	if waitErr != nil && errors.Is(waitErr, context.DeadlineExceeded) {
		execution.ExitCode = -1
	}

	return execution, nil
}

func (e *linuxEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	for _, cgroupPath := range e.snapshotCgroups(submissionID) {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return nil
}

func (e *linuxEngine) registerCgroup(submissionID, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	e.registry[submissionID] = append(e.registry[submissionID], cgroupPath)
}

func (e *linuxEngine) unregisterCgroup(submissionID, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	paths := e.registry[submissionID]
	if len(paths) == 0 {
		return
	}
	updated := paths[:0]
	for _, p := range paths {
		if p != cgroupPath {
			updated = append(updated, p)
		}
	}
	if len(updated) == 0 {
		delete(e.registry, submissionID)
		return
	}
	e.registry[submissionID] = updated
}

func (e *linuxEngine) snapshotCgroups(submissionID string) []string {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	paths := e.registry[submissionID]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

func (e *linuxEngine) killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func validateRunSpec(runSpec RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}

func jsonToPipe(req initRequest) (io.ReadCloser, error) {
	reader, writer := io.Pipe()
	go func() {
		enc := json.NewEncoder(writer)
		err := enc.Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader, nil
}

func buildSysProcAttr(profile IsolationProfile, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}
