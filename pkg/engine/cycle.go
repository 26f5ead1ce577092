package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Verdict is the outcome of one attempt inside a bounded repair/review loop.
type Verdict string

const (
	VerdictPass    Verdict = "pass"    // Attempt succeeded, loop stops
	VerdictConcern Verdict = "concern" // Fixable problem, loop continues
	VerdictBlock   Verdict = "block"   // Fatal, loop stops immediately
)

// AttemptFunc performs one cycle. cycle is 1-based. The returned error gives
// detail for concern/block verdicts and is recorded in the attempt history.
type AttemptFunc func(ctx context.Context, cycle int) (Verdict, error)

// Attempt is one recorded cycle of a repair/review loop.
type Attempt struct {
	Cycle   int       `json:"cycle"`
	Verdict Verdict   `json:"verdict"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// CycleController is the single bounded-loop abstraction used wherever a
// repair-then-reverify pattern appears: phase-output repair, multi-reviewer
// adjudication, any verification sequence.
type CycleController struct {
	logger Logger
}

func NewCycleController(logger Logger) *CycleController {
	return &CycleController{logger: logger}
}

// Run invokes fn up to maxCycles times. A pass returns immediately; a block
// stops the loop with the blocking error; exhausting the budget without a
// pass returns ErrCycleExhausted. The full attempt history is returned either
// way so callers can publish it when they escalate.
func (c *CycleController) Run(ctx context.Context, fn AttemptFunc, maxCycles int) ([]Attempt, error) {
	if maxCycles <= 0 {
		maxCycles = 1
	}
	history := make([]Attempt, 0, maxCycles)
	for cycle := 1; cycle <= maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		verdict, err := fn(ctx, cycle)
		rec := Attempt{Cycle: cycle, Verdict: verdict, At: time.Now()}
		if err != nil {
			rec.Detail = err.Error()
		}
		history = append(history, rec)

		switch verdict {
		case VerdictPass:
			return history, nil
		case VerdictBlock:
			c.logger.Errorf("Cycle %d/%d blocked: %v", cycle, maxCycles, err)
			if err == nil {
				err = errors.New("attempt blocked")
			}
			return history, err
		case VerdictConcern:
			c.logger.Infof("Cycle %d/%d raised a concern: %v", cycle, maxCycles, err)
		default:
			return history, errors.Errorf("unknown verdict %q on cycle %d", verdict, cycle)
		}
	}
	return history, ErrCycleExhausted
}
