package model

import "testing"

func TestIsRunTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusPending, false},
		{RunStatusRunning, false},
		{RunStatusPaused, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusOperatorAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsRunTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsRunTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestValidateRunTransition(t *testing.T) {
	valid := []struct {
		from, to RunStatus
	}{
		{RunStatusPending, RunStatusRunning},
		{RunStatusPending, RunStatusFailed},
		{RunStatusRunning, RunStatusPaused},
		{RunStatusRunning, RunStatusCompleted},
		{RunStatusRunning, RunStatusFailed},
		{RunStatusRunning, RunStatusOperatorAborted},
		{RunStatusPaused, RunStatusRunning},
		{RunStatusPaused, RunStatusFailed},
		{RunStatusPaused, RunStatusOperatorAborted},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateRunTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to RunStatus
	}{
		{RunStatusPending, RunStatusPaused},
		{RunStatusPending, RunStatusCompleted},
		{RunStatusPaused, RunStatusCompleted}, // must resume before completing
		{RunStatusCompleted, RunStatusRunning},
		{RunStatusFailed, RunStatusRunning},
		{RunStatusOperatorAborted, RunStatusRunning},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateRunTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}

func TestValidateModuleTransition(t *testing.T) {
	valid := []struct {
		from, to ModuleStatus
	}{
		{ModuleStatusIdle, ModuleStatusHeating},
		{ModuleStatusIdle, ModuleStatusFault},
		{ModuleStatusHeating, ModuleStatusStable},
		{ModuleStatusHeating, ModuleStatusIdle},
		{ModuleStatusHeating, ModuleStatusFault},
		{ModuleStatusStable, ModuleStatusHeating},
		{ModuleStatusStable, ModuleStatusIdle},
		{ModuleStatusStable, ModuleStatusFault},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateModuleTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to ModuleStatus
	}{
		{ModuleStatusIdle, ModuleStatusStable}, // must pass through heating
		{ModuleStatusFault, ModuleStatusIdle},
		{ModuleStatusFault, ModuleStatusHeating},
		{ModuleStatusFault, ModuleStatusStable},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateModuleTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}

func TestIsActionTerminalOutcome(t *testing.T) {
	tests := []struct {
		outcome  ActionOutcome
		terminal bool
	}{
		{OutcomeSuccess, false},
		{OutcomeSkipped, false},
		{OutcomeFailed, true},
		{OutcomeOperatorAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			if got := IsActionTerminalOutcome(tt.outcome); got != tt.terminal {
				t.Errorf("IsActionTerminalOutcome(%q) = %v, want %v", tt.outcome, got, tt.terminal)
			}
		})
	}
}

func TestValidOutcome(t *testing.T) {
	for _, s := range []string{"SUCCESS", "SKIPPED", "FAILED", "OPERATOR_ABORTED"} {
		if !ValidOutcome(s) {
			t.Errorf("ValidOutcome(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"success", "CANCELLED", "", "DONE"} {
		if ValidOutcome(s) {
			t.Errorf("ValidOutcome(%q) = true, want false", s)
		}
	}
}
