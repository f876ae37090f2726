// Package sandbox executes untrusted learner code inside an isolated
// process with hard resource limits.
package sandbox

import "context"

// ResourceLimit describes hard limits enforced on one run.
type ResourceLimit struct {
	CPUTimeMs  int64
	WallTimeMs int64
	MemoryMB   int64
	StackMB    int64
	OutputMB   int64
	PIDs       int64
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// IsolationProfile configures the filesystem and syscall surface the
// sandboxed process sees.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
}

// RunSpec describes one sandboxed invocation: either a compile step
// or a single test-case run. The command must be an absolute path;
// the helper does no PATH lookup and runs it with a fixed minimal
// environment.
type RunSpec struct {
	SubmissionID string
	RunID        string
	WorkDir      string
	Cmd          []string
	StdinPath    string
	StdoutPath   string
	StderrPath   string
	BindMounts   []MountSpec
	Limits       ResourceLimit
}

// Execution captures the raw outcome of one sandboxed invocation.
// Classification into a verdict happens in the caller.
type Execution struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	TimedOut   bool
	OomKilled  bool
}

// Engine runs RunSpecs in isolation.
type Engine interface {
	Run(ctx context.Context, runSpec RunSpec) (Execution, error)
	// KillSubmission forcefully stops every in-flight run belonging to
	// a submission. Used on retraction.
	KillSubmission(ctx context.Context, submissionID string) error
}

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot           string `yaml:"cgroup_root"`
	HelperPath           string `yaml:"helper_path"`
	RootFS               string `yaml:"rootfs"`
	SeccompProfile       string `yaml:"seccomp_profile"`
	DisableNetwork       bool   `yaml:"disable_network"`
	StdoutStderrMaxBytes int64  `yaml:"stdout_stderr_max_bytes"`
	EnableSeccomp        bool   `yaml:"enable_seccomp"`
	EnableCgroup         bool   `yaml:"enable_cgroup"`
	EnableNamespaces     bool   `yaml:"enable_namespaces"`
}

func (c Config) isolation() IsolationProfile {
	return IsolationProfile{
		RootFS:         c.RootFS,
		SeccompProfile: c.SeccompProfile,
		DisableNetwork: c.DisableNetwork,
	}
}
