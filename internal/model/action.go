package model

import "fmt"

// ActionKind enumerates everything the executor can be asked to do. Physical
// kinds map 1:1 onto driver calls except MIX, which the executor expands into
// offset aspirate/dispense sweeps so plans stay compact and replayable.
type ActionKind string

const (
	ActionPickUpTip        ActionKind = "PICK_UP_TIP"
	ActionDropTip          ActionKind = "DROP_TIP"
	ActionMoveTo           ActionKind = "MOVE_TO"
	ActionAspirate         ActionKind = "ASPIRATE"
	ActionDispense         ActionKind = "DISPENSE"
	ActionBlowOut          ActionKind = "BLOW_OUT"
	ActionMix              ActionKind = "MIX"
	ActionPause            ActionKind = "PAUSE"
	ActionPauseForTemp     ActionKind = "PAUSE_FOR_TEMP"
	ActionManualPause      ActionKind = "MANUAL_PAUSE"
	ActionDelay            ActionKind = "DELAY"
	ActionSetModuleTemp    ActionKind = "SET_MODULE_TEMP"
	ActionDeactivateModule ActionKind = "DEACTIVATE_MODULE"
)

// ValidActionKind reports whether s parses as an action kind.
func ValidActionKind(s string) bool {
	switch ActionKind(s) {
	case ActionPickUpTip, ActionDropTip, ActionMoveTo, ActionAspirate,
		ActionDispense, ActionBlowOut, ActionMix, ActionPause,
		ActionPauseForTemp, ActionManualPause, ActionDelay,
		ActionSetModuleTemp, ActionDeactivateModule:
		return true
	}
	return false
}

// Action is one worklist step. Only the fields its Kind needs are set; the
// zero value of the rest is ignored by the executor.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Reagent string     `json:"reagent,omitempty"`

	// Liquid handling.
	VolumeUL float64    `json:"volume_ul,omitempty"`
	Source   WellTarget `json:"source,omitempty"`
	Dest     WellTarget `json:"dest,omitempty"`

	// MIX parameters.
	Cycles     int       `json:"cycles,omitempty"`
	ZOffsetsMM []float64 `json:"z_offsets_mm,omitempty"`

	// Motion overrides. Zero means the bench default.
	SpeedMMS float64 `json:"speed_mm_s,omitempty"`

	// Temperature module kinds.
	ModuleID   string  `json:"module_id,omitempty"`
	TargetC    float64 `json:"target_c,omitempty"`
	TimeoutSec int     `json:"timeout_sec,omitempty"`

	// Waits and operator gates.
	DurationMS int    `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`

	// Finalization actions still run after an abort; the log flags them so
	// abort scenarios stay auditable.
	Finalization bool `json:"finalization,omitempty"`
}

// Describe renders a one-line human summary for logs and `gelpilot plan`.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionPickUpTip:
		return "pick up tip"
	case ActionDropTip:
		return "drop tip"
	case ActionMoveTo:
		return fmt.Sprintf("move to %s", a.Dest)
	case ActionAspirate:
		return fmt.Sprintf("aspirate %.1f uL %s from %s", a.VolumeUL, a.Reagent, a.Source)
	case ActionDispense:
		return fmt.Sprintf("dispense %.1f uL %s into %s", a.VolumeUL, a.Reagent, a.Dest)
	case ActionBlowOut:
		return fmt.Sprintf("blow out over %s", a.Dest)
	case ActionMix:
		return fmt.Sprintf("mix %s x%d at %.1f uL", a.Dest, a.Cycles, a.VolumeUL)
	case ActionPause:
		return fmt.Sprintf("pause %d ms", a.DurationMS)
	case ActionPauseForTemp:
		return fmt.Sprintf("await %s stable at %.1f C", a.ModuleID, a.TargetC)
	case ActionManualPause:
		return fmt.Sprintf("operator checkpoint: %s", a.Message)
	case ActionDelay:
		return fmt.Sprintf("delay %d ms", a.DurationMS)
	case ActionSetModuleTemp:
		return fmt.Sprintf("set %s to %.1f C", a.ModuleID, a.TargetC)
	case ActionDeactivateModule:
		return fmt.Sprintf("deactivate %s", a.ModuleID)
	}
	return string(a.Kind)
}

// DispensePlan is the calculator's output: one reagent volume bound for one
// destination well.
type DispensePlan struct {
	Reagent      string     `json:"reagent"`
	VolumeUL     float64    `json:"volume_ul"`
	Viscosity    Viscosity  `json:"viscosity"`
	Source       WellRef    `json:"source"`
	Dest         WellTarget `json:"dest"`
	Replicate    int        `json:"replicate"`
	ChannelCount int        `json:"channel_count"` // 1 or 8
	IsSolvent    bool       `json:"is_solvent,omitempty"`
}

func (p DispensePlan) String() string {
	return fmt.Sprintf("%s %.1f uL %s → %s", p.Reagent, p.VolumeUL, p.Source, p.Dest)
}
