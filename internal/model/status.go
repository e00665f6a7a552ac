package model

import "fmt"

// RunStatus tracks a run through its lifecycle in state.yaml.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusRunning         RunStatus = "running"
	RunStatusPaused          RunStatus = "paused"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
	RunStatusOperatorAborted RunStatus = "operator_aborted"
)

// ActionOutcome is the recorded disposition of a single worklist action.
type ActionOutcome string

const (
	OutcomeSuccess         ActionOutcome = "SUCCESS"
	OutcomeSkipped         ActionOutcome = "SKIPPED"
	OutcomeFailed          ActionOutcome = "FAILED"
	OutcomeOperatorAborted ActionOutcome = "OPERATOR_ABORTED"
)

// ModuleStatus tracks a temperature module's control state.
type ModuleStatus string

const (
	ModuleStatusIdle    ModuleStatus = "idle"
	ModuleStatusHeating ModuleStatus = "heating"
	ModuleStatusStable  ModuleStatus = "stable"
	ModuleStatusFault   ModuleStatus = "fault"
)

var terminalRunStatuses = map[RunStatus]bool{
	RunStatusCompleted:       true,
	RunStatusFailed:          true,
	RunStatusOperatorAborted: true,
}

// Run transitions: pending → running ↔ paused, running/paused → terminal.
var validRunTransitions = map[RunStatus]map[RunStatus]bool{
	RunStatusPending: {
		RunStatusRunning: true,
		RunStatusFailed:  true,
	},
	RunStatusRunning: {
		RunStatusPaused:          true,
		RunStatusCompleted:       true,
		RunStatusFailed:          true,
		RunStatusOperatorAborted: true,
	},
	RunStatusPaused: {
		RunStatusRunning:         true,
		RunStatusFailed:          true,
		RunStatusOperatorAborted: true,
	},
}

// Module transitions: idle → heating → stable, retarget drops stable back to
// heating, fault is reachable from every non-fault state and is terminal.
var validModuleTransitions = map[ModuleStatus]map[ModuleStatus]bool{
	ModuleStatusIdle: {
		ModuleStatusHeating: true,
		ModuleStatusFault:   true,
	},
	ModuleStatusHeating: {
		ModuleStatusStable: true,
		ModuleStatusIdle:   true, // deactivated while still converging
		ModuleStatusFault:  true,
	},
	ModuleStatusStable: {
		ModuleStatusHeating: true,
		ModuleStatusIdle:    true, // deactivated
		ModuleStatusFault:   true,
	},
}

func IsRunTerminal(s RunStatus) bool {
	return terminalRunStatuses[s]
}

func IsModuleTerminal(s ModuleStatus) bool {
	return s == ModuleStatusFault
}

// IsActionTerminalOutcome reports whether the outcome ends the run: FAILED and
// OPERATOR_ABORTED stop the worklist, SUCCESS and SKIPPED let it continue.
func IsActionTerminalOutcome(o ActionOutcome) bool {
	return o == OutcomeFailed || o == OutcomeOperatorAborted
}

func ValidateRunTransition(from, to RunStatus) error {
	if IsRunTerminal(from) {
		return fmt.Errorf("cannot transition from terminal run status %q", from)
	}
	allowed, ok := validRunTransitions[from]
	if !ok {
		return fmt.Errorf("unknown run status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid run transition: %q → %q", from, to)
	}
	return nil
}

func ValidateModuleTransition(from, to ModuleStatus) error {
	if IsModuleTerminal(from) {
		return fmt.Errorf("cannot transition from faulted module status %q", from)
	}
	allowed, ok := validModuleTransitions[from]
	if !ok {
		return fmt.Errorf("unknown module status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid module transition: %q → %q", from, to)
	}
	return nil
}

// ValidOutcome reports whether s parses as a recorded action outcome.
func ValidOutcome(s string) bool {
	switch ActionOutcome(s) {
	case OutcomeSuccess, OutcomeSkipped, OutcomeFailed, OutcomeOperatorAborted:
		return true
	}
	return false
}
