package retrieval

import "fmt"

// State is a step of the per-query lifecycle.
type State string

const (
	StateReceived             State = "RECEIVED"
	StatePriorComputed        State = "PRIOR_COMPUTED"
	StateStrategiesDispatched State = "STRATEGIES_DISPATCHED"
	StateFused                State = "FUSED"
	StateConfident            State = "CONFIDENT"
	StateLowConfidence        State = "LOW_CONFIDENCE"
	StateInductionRun         State = "INDUCTION_RUN"
	StateReFused              State = "RE_FUSED"
	StateReturned             State = "RETURNED"
	StateFeedbackPending      State = "FEEDBACK_PENDING"
)

// transitions lists the legal successors of each state. LOW_CONFIDENCE goes
// straight to RETURNED when induction is disabled; INDUCTION_RUN does when
// the expansion fails.
var transitions = map[State][]State{
	StateReceived:             {StatePriorComputed},
	StatePriorComputed:        {StateStrategiesDispatched},
	StateStrategiesDispatched: {StateFused},
	StateFused:                {StateConfident, StateLowConfidence},
	StateConfident:            {StateReturned},
	StateLowConfidence:        {StateInductionRun, StateReturned},
	StateInductionRun:         {StateReFused, StateReturned},
	StateReFused:              {StateReturned},
	StateReturned:             {StateFeedbackPending},
}

// machine records a query's path through the lifecycle and refuses revisits
// and out-of-order steps.
type machine struct {
	trace []State
}

func newMachine() *machine {
	return &machine{trace: []State{StateReceived}}
}

func (m *machine) current() State {
	return m.trace[len(m.trace)-1]
}

func (m *machine) advance(next State) error {
	for _, s := range m.trace {
		if s == next {
			return fmt.Errorf("state %s already visited", next)
		}
	}
	cur := m.current()
	for _, allowed := range transitions[cur] {
		if allowed == next {
			m.trace = append(m.trace, next)
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", cur, next)
}

func (m *machine) states() []State {
	out := make([]State, len(m.trace))
	copy(out, m.trace)
	return out
}
