package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
)

// Step is a single stage of the API refresh.
type Step interface {
	Execute(ctx context.Context, state *RefreshState) error
}

// RefreshState holds the shared state across refresh stages.
type RefreshState struct {
	Since     time.Time
	StartedAt time.Time

	All      []ledger.Transaction
	New      []ledger.Transaction
	Existing []ledger.Transaction
	Modified []ledger.Transaction

	Imported []*domain.Transaction
	Updated  []*domain.Transaction

	Report domain.IngestionReport
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// StepError reports which step of a pipeline failed, counting from 1.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline step %d failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Execute runs all steps in the pipeline sequentially and stops at the first
// failure.
func (p *Pipeline) Execute(ctx context.Context, state *RefreshState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return &StepError{Step: i + 1, Err: err}
		}
	}
	return nil
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}
