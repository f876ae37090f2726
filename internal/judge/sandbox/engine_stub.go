//go:build !linux

package sandbox

import (
	"context"
	"fmt"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec RunSpec) (Execution, error) {
	return Execution{}, fmt.Errorf("sandbox engine is only supported on linux")
}

func (s *stubEngine) KillSubmission(ctx context.Context, submissionID string) error {
	return fmt.Errorf("sandbox engine is only supported on linux")
}
