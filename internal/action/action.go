package action

import "formgate/internal/dataType"

// State tells the check pipeline whether to keep evaluating.
type State int

const (
	Continue State = iota // next check runs
	Done                  // decision is final, stop the pipeline
)

// Decision carries the verification outcome through the check pipeline. The
// first check that reaches a terminal conclusion sets Done together with the
// result; later checks never run.
type Decision struct {
	State  State
	Result *dataType.VerifyResult
}

func NewDecision() *Decision {
	return &Decision{State: Continue}
}

func (d *Decision) Set(state State) {
	d.State = state
}

// SetResult finalizes the decision with the given result.
func (d *Decision) SetResult(state State, result *dataType.VerifyResult) {
	d.State = state
	d.Result = result
}
