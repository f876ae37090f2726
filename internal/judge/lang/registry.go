package lang

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/shlex"
)

// Descriptor describes how to compile and run one language.
// Command templates use {src}, {bin} and {dir} placeholders, expanded
// against the per-run work directory.
type Descriptor struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	SourceFile string `yaml:"source_file" json:"source_file"`
	BinaryFile string `yaml:"binary_file,omitempty" json:"binary_file,omitempty"`
	CompileCmd string `yaml:"compile_cmd,omitempty" json:"-"`
	RunCmd     string `yaml:"run_cmd" json:"-"`

	CompileTimeoutMs int64 `yaml:"compile_timeout_ms" json:"-"`
	RunTimeoutMs     int64 `yaml:"run_timeout_ms" json:"run_timeout_ms"`
	MemoryLimitMB    int64 `yaml:"memory_limit_mb" json:"memory_limit_mb"`
}

// Compiled reports whether the language has a compile step.
func (d *Descriptor) Compiled() bool {
	return strings.TrimSpace(d.CompileCmd) != ""
}

// CompileCommand expands the compile template into argv form.
func (d *Descriptor) CompileCommand(workDir string) ([]string, error) {
	return expandCommand(d.CompileCmd, d, workDir)
}

// RunCommand expands the run template into argv form.
func (d *Descriptor) RunCommand(workDir string) ([]string, error) {
	return expandCommand(d.RunCmd, d, workDir)
}

func expandCommand(template string, d *Descriptor, workDir string) ([]string, error) {
	if strings.TrimSpace(template) == "" {
		return nil, fmt.Errorf("language %s: empty command template", d.ID)
	}
	replacer := strings.NewReplacer(
		"{src}", workDir+"/"+d.SourceFile,
		"{bin}", workDir+"/"+d.BinaryFile,
		"{dir}", workDir,
	)
	argv, err := shlex.Split(replacer.Replace(template))
	if err != nil {
		return nil, fmt.Errorf("language %s: parse command: %w", d.ID, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("language %s: command expands to nothing", d.ID)
	}
	return argv, nil
}

func (d *Descriptor) validate() error {
	if d.ID == "" {
		return fmt.Errorf("language descriptor missing id")
	}
	if d.SourceFile == "" {
		return fmt.Errorf("language %s: missing source_file", d.ID)
	}
	if strings.TrimSpace(d.RunCmd) == "" {
		return fmt.Errorf("language %s: missing run_cmd", d.ID)
	}
	if d.RunTimeoutMs <= 0 {
		return fmt.Errorf("language %s: run_timeout_ms must be positive", d.ID)
	}
	if d.MemoryLimitMB <= 0 {
		return fmt.Errorf("language %s: memory_limit_mb must be positive", d.ID)
	}
	if d.Compiled() && d.CompileTimeoutMs <= 0 {
		return fmt.Errorf("language %s: compile_timeout_ms must be positive", d.ID)
	}
	return nil
}

// Registry holds the supported languages. The set is fixed at startup;
// lookups are concurrency-safe.
type Registry struct {
	mu    sync.RWMutex
	langs map[string]*Descriptor
}

// NewRegistry builds a registry from the given descriptors. Descriptors
// with an ID already present override the earlier entry, so callers can
// layer configuration over Builtin().
func NewRegistry(descriptors []*Descriptor) (*Registry, error) {
	langs := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		copied := *d
		langs[copied.ID] = &copied
	}
	if len(langs) == 0 {
		return nil, fmt.Errorf("no languages configured")
	}
	return &Registry{langs: langs}, nil
}

// Resolve returns the descriptor for a language id, or false when the
// language is not supported.
func (r *Registry) Resolve(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.langs[id]
	return d, ok
}

// Supported reports whether a language id is registered.
func (r *Registry) Supported(id string) bool {
	_, ok := r.Resolve(id)
	return ok
}

// List returns all descriptors sorted by id.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.langs))
	for _, d := range r.langs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Builtin returns the default language set.
func Builtin() []*Descriptor {
	return []*Descriptor{
		{
			ID:            "python",
			Name:          "Python 3",
			SourceFile:    "main.py",
			RunCmd:        "/usr/bin/python3 {src}",
			RunTimeoutMs:  5000,
			MemoryLimitMB: 256,
		},
		{
			ID:            "javascript",
			Name:          "Node.js",
			SourceFile:    "main.js",
			RunCmd:        "/usr/bin/node {src}",
			RunTimeoutMs:  5000,
			MemoryLimitMB: 256,
		},
		{
			ID:               "java",
			Name:             "Java 17",
			SourceFile:       "Main.java",
			BinaryFile:       "Main.class",
			CompileCmd:       "/usr/bin/javac -d {dir} {src}",
			RunCmd:           "/usr/bin/java -cp {dir} Main",
			CompileTimeoutMs: 20000,
			RunTimeoutMs:     8000,
			MemoryLimitMB:    512,
		},
		{
			ID:               "c",
			Name:             "C (GCC)",
			SourceFile:       "main.c",
			BinaryFile:       "main",
			CompileCmd:       "/usr/bin/gcc -O2 -std=c17 -o {bin} {src}",
			RunCmd:           "{bin}",
			CompileTimeoutMs: 10000,
			RunTimeoutMs:     2000,
			MemoryLimitMB:    256,
		},
		{
			ID:               "cpp",
			Name:             "C++ (G++)",
			SourceFile:       "main.cpp",
			BinaryFile:       "main",
			CompileCmd:       "/usr/bin/g++ -O2 -std=c++20 -o {bin} {src}",
			RunCmd:           "{bin}",
			CompileTimeoutMs: 15000,
			RunTimeoutMs:     2000,
			MemoryLimitMB:    256,
		},
	}
}
