package submission

import "time"

// Status is the lifecycle state of a submission. A submission moves
// PENDING -> RUNNING -> one terminal verdict; terminal states never
// change again.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusRunning             Status = "RUNNING"
	StatusAccepted            Status = "ACCEPTED"
	StatusWrongAnswer         Status = "WRONG_ANSWER"
	StatusCompileError        Status = "COMPILE_ERROR"
	StatusRuntimeError        Status = "RUNTIME_ERROR"
	StatusTimeLimitExceeded   Status = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded Status = "MEMORY_LIMIT_EXCEEDED"
	StatusInternalError       Status = "INTERNAL_ERROR"
)

// Terminal reports whether the status is a final verdict.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusCompileError,
		StatusRuntimeError, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusInternalError:
		return true
	}
	return false
}

// Valid reports whether the status is one the pipeline produces.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.Terminal()
}

// TerminalStatuses lists every final verdict.
func TerminalStatuses() []Status {
	return []Status{
		StatusAccepted,
		StatusWrongAnswer,
		StatusCompileError,
		StatusRuntimeError,
		StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded,
		StatusInternalError,
	}
}

// Submission is the durable record of a learner's attempt.
type Submission struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ProblemID   int64      `json:"problem_id"`
	LanguageID  string     `json:"language_id"`
	SourceKey   string     `json:"-"`
	SourceHash  string     `json:"-"`
	Status      Status     `json:"status"`
	Diagnostic  string     `json:"diagnostic,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListItem is a submission row joined with its problem title for the
// learner history view.
type ListItem struct {
	ID           string     `json:"id"`
	ProblemID    int64      `json:"problem_id"`
	ProblemTitle string     `json:"problem_title"`
	LanguageID   string     `json:"language_id"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
