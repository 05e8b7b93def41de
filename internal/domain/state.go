package domain

import "fmt"

// RunState is the orchestrator's position in the plan/build/test sequence
type RunState string

const (
	StatePlanning     RunState = "planning"
	StateBuilding     RunState = "building"
	StateTesting      RunState = "testing"
	StateSucceeded    RunState = "succeeded"
	StateAbortedPlan  RunState = "aborted_plan"
	StateAbortedBuild RunState = "aborted_build"
	StateAbortedTest  RunState = "aborted_test"
	StateInterrupted  RunState = "interrupted"
)

var runTransitions = map[RunState]map[RunState]bool{
	StatePlanning: {
		StateBuilding:    true,
		StateAbortedPlan: true,
		StateInterrupted: true,
	},
	StateBuilding: {
		StateTesting:      true,
		StateAbortedBuild: true,
		StateInterrupted:  true,
	},
	StateTesting: {
		StateTesting:     true, // auto-fix retry
		StateSucceeded:   true,
		StateAbortedTest: true,
		StateInterrupted: true,
	},
}

// Terminal reports whether no further transitions are possible
func (s RunState) Terminal() bool {
	return len(runTransitions[s]) == 0
}

// CanTransition reports whether from → to is allowed
func CanTransition(from, to RunState) bool {
	return runTransitions[from][to]
}

// Transition moves the run to the next state, rejecting illegal moves
func (r *Run) Transition(to RunState) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("invalid run transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}

// AbortStateFor returns the terminal failure state for a phase
func AbortStateFor(p PhaseName) RunState {
	switch p {
	case PhasePlan:
		return StateAbortedPlan
	case PhaseBuild:
		return StateAbortedBuild
	default:
		return StateAbortedTest
	}
}
