package catalog

import "time"

// Difficulty buckets shown to learners.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Example is a visible input/output pair shown alongside the statement.
type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// TestCase is a hidden grading case. Never serialized to learners.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Limits bounds a single run of a candidate solution. Zero values fall
// back to the language defaults.
type Limits struct {
	TimeLimitMs   int64 `json:"time_limit_ms,omitempty"`
	MemoryLimitMB int64 `json:"memory_limit_mb,omitempty"`
}

// Problem is the full catalog record, including grading data.
type Problem struct {
	ID             int64      `json:"id"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	Statement      string     `json:"statement"`
	Difficulty     string     `json:"difficulty"`
	Tags           []string   `json:"tags"`
	Examples       []Example  `json:"examples"`
	HiddenCases    []TestCase `json:"-"`
	Limits         Limits     `json:"limits"`
	SampleSolution string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AllCases returns examples followed by hidden cases, in grading order.
func (p *Problem) AllCases() []TestCase {
	cases := make([]TestCase, 0, len(p.Examples)+len(p.HiddenCases))
	for _, ex := range p.Examples {
		cases = append(cases, TestCase{Input: ex.Input, Output: ex.Output})
	}
	cases = append(cases, p.HiddenCases...)
	return cases
}

// View is the learner-facing projection of a Problem. Hidden cases are
// stripped; the sample solution is part of the detail contract.
type View struct {
	ID             int64     `json:"id"`
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	Statement      string    `json:"statement"`
	Difficulty     string    `json:"difficulty"`
	Tags           []string  `json:"tags"`
	Examples       []Example `json:"examples"`
	Limits         Limits    `json:"limits"`
	SampleSolution string    `json:"sample_solution,omitempty"`
}

// Summary is the list-page projection: no statement, no examples.
type Summary struct {
	ID         int64    `json:"id"`
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	Tags       []string `json:"tags"`
}

func (p *Problem) ToView() *View {
	return &View{
		ID:             p.ID,
		Slug:           p.Slug,
		Title:          p.Title,
		Statement:      p.Statement,
		Difficulty:     p.Difficulty,
		Tags:           p.Tags,
		Examples:       p.Examples,
		Limits:         p.Limits,
		SampleSolution: p.SampleSolution,
	}
}

func (p *Problem) ToSummary() *Summary {
	return &Summary{
		ID:         p.ID,
		Slug:       p.Slug,
		Title:      p.Title,
		Difficulty: p.Difficulty,
		Tags:       p.Tags,
	}
}
