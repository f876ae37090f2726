//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// runCgroup is one per-run cgroup v2 directory under the configured
// root. Runs nest under a per-submission directory so retraction can
// find and kill every run of a submission at once.
type runCgroup struct {
	path string
}

func newRunCgroup(root, submissionID, runID string) (*runCgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	dir := fmt.Sprintf("%s-%d", runID, time.Now().UnixNano())
	path := filepath.Join(root, submissionID, dir)
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create cgroup path: %w", err)
	}
	return &runCgroup{path: path}, nil
}

func (c *runCgroup) remove() {
	_ = os.RemoveAll(c.path)
}

// applyLimits writes pids.max and memory.max. cpu.max stays at one
// full CPU per run; CPU time is accounted through rlimits and
// getrusage rather than throttling.
func (c *runCgroup) applyLimits(limits ResourceLimit) error {
	pids := "max"
	if limits.PIDs > 0 {
		pids = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := c.write("pids.max", pids); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := c.write("memory.max", strconv.FormatInt(limits.MemoryMB<<20, 10)); err != nil {
			return err
		}
	}
	return c.write("cpu.max", "max 100000")
}

func (c *runCgroup) attach(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return c.write("cgroup.procs", strconv.Itoa(pid))
}

func (c *runCgroup) oomKilled() bool {
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			count, _ := strconv.ParseInt(fields[1], 10, 64)
			return count > 0
		}
	}
	return false
}

func (c *runCgroup) peakMemoryKB() (int64, bool) {
	val, err := c.readInt("memory.peak")
	if err != nil || val <= 0 {
		return 0, false
	}
	return val / 1024, true
}

func (c *runCgroup) write(name, value string) error {
	return os.WriteFile(filepath.Join(c.path, name), []byte(value), 0640)
}

func (c *runCgroup) readInt(name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// killCgroup operates on a bare path: retraction runs on another
// goroutine that only holds registered path strings.
func killCgroup(path string) error {
	killPath := filepath.Join(path, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

// peakMemoryKB prefers the cgroup's high-water mark and falls back to
// getrusage when cgroups are disabled.
func peakMemoryKB(cg *runCgroup, state *os.ProcessState) int64 {
	if cg != nil {
		if kb, ok := cg.peakMemoryKB(); ok {
			return kb
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}
