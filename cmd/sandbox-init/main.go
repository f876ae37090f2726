//go:build linux

// sandbox-init finishes isolation setup from inside the namespaces the
// judge engine created: it reads a JSON setup request on stdin, enters
// the target filesystem, caps resources, wires the standard streams,
// loads the seccomp filter, and execs the target command. Anything the
// engine enforces from the host side (wall clock, cgroup memory, the
// network namespace) has no counterpart here.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// setupRequest declares only the fields this helper consumes; the
// engine sends a superset and the decoder drops the rest. Field names
// follow the engine's sandbox package.
type setupRequest struct {
	RunSpec       targetSpec
	Isolation     isolation
	EnableSeccomp bool
	EnableNs      bool
}

type targetSpec struct {
	WorkDir    string
	Cmd        []string
	StdinPath  string
	StdoutPath string
	StderrPath string
	BindMounts []bindMount
	Limits     caps
}

type bindMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type caps struct {
	CPUTimeMs int64
	StackMB   int64
	OutputMB  int64
	PIDs      int64
}

type isolation struct {
	RootFS         string
	SeccompProfile string
}

func main() {
	if err := setup(os.Stdin); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func setup(r io.Reader) error {
	var req setupRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode setup request: %w", err)
	}
	target := req.RunSpec
	switch {
	case len(target.Cmd) == 0:
		return fmt.Errorf("command is required")
	case !filepath.IsAbs(target.Cmd[0]):
		// Language descriptors carry absolute paths, so there is no
		// PATH lookup here.
		return fmt.Errorf("command %q is not an absolute path", target.Cmd[0])
	case target.WorkDir == "":
		return fmt.Errorf("work dir is required")
	}

	if err := enterFilesystem(req); err != nil {
		return err
	}
	if err := os.Chdir(target.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := capResources(target.Limits); err != nil {
		return err
	}
	if err := wireStreams(target); err != nil {
		return err
	}
	if req.EnableSeccomp && req.Isolation.SeccompProfile != "" {
		if err := confineSyscalls(req.Isolation.SeccompProfile); err != nil {
			return err
		}
	}

	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + target.WorkDir,
	}
	return unix.Exec(target.Cmd[0], target.Cmd, env)
}

// enterFilesystem applies bind mounts and the chroot. Without mount
// namespaces none of that is safe to do, so a request that asks for
// both is rejected.
func enterFilesystem(req setupRequest) error {
	if !req.EnableNs {
		if req.Isolation.RootFS != "" || len(req.RunSpec.BindMounts) > 0 {
			return fmt.Errorf("rootfs and bind mounts require namespaces")
		}
		return nil
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make mounts private: %w", err)
	}
	root := req.Isolation.RootFS
	for _, m := range req.RunSpec.BindMounts {
		if err := bindOne(root, m); err != nil {
			return err
		}
	}
	if root == "" {
		return nil
	}
	if err := mountProc(root); err != nil {
		return err
	}
	if err := unix.Chroot(root); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir root: %w", err)
	}
	return nil
}

func bindOne(root string, m bindMount) error {
	if m.Source == "" || m.Target == "" {
		return fmt.Errorf("bind mount needs source and target")
	}
	target := m.Target
	if root != "" {
		target = filepath.Join(root, m.Target)
	}
	if err := prepareBindTarget(m.Source, target); err != nil {
		return err
	}
	if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind %s: %w", m.Source, err)
	}
	if !m.ReadOnly {
		return nil
	}
	if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", target, err)
	}
	return nil
}

// prepareBindTarget creates the mount point: a directory for directory
// sources, an empty file for file sources.
func prepareBindTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}

func mountProc(root string) error {
	procPath := filepath.Join(root, "proc")
	if err := os.MkdirAll(procPath, 0755); err != nil {
		return fmt.Errorf("mkdir proc: %w", err)
	}
	if err := unix.Mount("proc", procPath, "proc", 0, ""); err != nil && !errors.Is(err, unix.EBUSY) {
		return fmt.Errorf("mount proc: %w", err)
	}
	return nil
}

func capResources(l caps) error {
	rcaps := []struct {
		resource int
		value    int64
		name     string
	}{
		{unix.RLIMIT_CPU, (l.CPUTimeMs + 999) / 1000, "cpu"},
		{unix.RLIMIT_FSIZE, l.OutputMB << 20, "fsize"},
		{unix.RLIMIT_STACK, l.StackMB << 20, "stack"},
		{unix.RLIMIT_NPROC, l.PIDs, "nproc"},
	}
	for _, c := range rcaps {
		if c.value <= 0 {
			continue
		}
		v := uint64(c.value)
		if err := unix.Setrlimit(c.resource, &unix.Rlimit{Cur: v, Max: v}); err != nil {
			return fmt.Errorf("rlimit %s: %w", c.name, err)
		}
	}
	return nil
}

// wireStreams points fds 0..2 at the request's files, or /dev/null
// when a path is empty.
func wireStreams(target targetSpec) error {
	streams := []struct {
		path  string
		fd    int
		flags int
		name  string
	}{
		{target.StdinPath, 0, os.O_RDONLY, "stdin"},
		{target.StdoutPath, 1, os.O_CREATE | os.O_WRONLY | os.O_TRUNC, "stdout"},
		{target.StderrPath, 2, os.O_CREATE | os.O_WRONLY | os.O_TRUNC, "stderr"},
	}
	for _, s := range streams {
		path := s.path
		if path == "" {
			path = os.DevNull
		}
		file, err := os.OpenFile(path, s.flags, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", s.name, err)
		}
		if err := unix.Dup2(int(file.Fd()), s.fd); err != nil {
			_ = file.Close()
			return fmt.Errorf("dup %s: %w", s.name, err)
		}
		_ = file.Close()
	}
	return nil
}

var seccompActions = map[string]seccomp.ScmpAction{
	"SCMP_ACT_ALLOW":        seccomp.ActAllow,
	"SCMP_ACT_KILL":         seccomp.ActKillProcess,
	"SCMP_ACT_KILL_PROCESS": seccomp.ActKillProcess,
}

type seccompProfile struct {
	DefaultAction string `json:"defaultAction"`
	Syscalls      []struct {
		Names  []string `json:"names"`
		Action string   `json:"action"`
	} `json:"syscalls"`
}

func confineSyscalls(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var prof seccompProfile
	if err := json.Unmarshal(data, &prof); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, ok := seccompActions[strings.ToUpper(prof.DefaultAction)]
	if !ok {
		return fmt.Errorf("unsupported seccomp action: %s", prof.DefaultAction)
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, group := range prof.Syscalls {
		action, ok := seccompActions[strings.ToUpper(group.Action)]
		if !ok {
			return fmt.Errorf("unsupported seccomp action: %s", group.Action)
		}
		for _, name := range group.Names {
			if err := filter.AddRuleExact(name, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
