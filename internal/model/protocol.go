package model

import "fmt"

// Viscosity buckets a reagent's handling difficulty. It selects the mixing
// profile; it never changes dispensed volumes.
type Viscosity string

const (
	ViscosityLow    Viscosity = "low"
	ViscosityMedium Viscosity = "medium"
	ViscosityHigh   Viscosity = "high"
)

// ValidViscosity reports whether s parses as a viscosity class.
func ValidViscosity(s string) bool {
	switch Viscosity(s) {
	case ViscosityLow, ViscosityMedium, ViscosityHigh:
		return true
	}
	return false
}

// Protocol is the protocol file (.gelpilot/protocols/*.yaml). It carries
// everything a run needs beyond the bench config: the formulation, where it
// goes, module targets, and operator checkpoints.
type Protocol struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description,omitempty"`
	Batch         BatchSpec     `yaml:"batch"`
	Reagents      []ReagentSpec `yaml:"reagents"`
	Solvent       SolventSpec   `yaml:"solvent"`
	Destination   Destination   `yaml:"destination"`
	Modules       []ModuleSpec  `yaml:"modules,omitempty"`
	Checkpoints   []Checkpoint  `yaml:"checkpoints,omitempty"`
}

// BatchSpec sizes the batch. Replicates are full copies of the formulation
// into successive destination wells.
type BatchSpec struct {
	TotalVolumeUL float64 `yaml:"total_volume_ul"`
	Replicates    int     `yaml:"replicates"`
}

// ReagentSpec declares one precursor component.
type ReagentSpec struct {
	Name           string    `yaml:"name"`
	TargetRatioPct float64   `yaml:"target_ratio_pct"` // % w/v of the batch volume
	Solvent        string    `yaml:"solvent"`
	Viscosity      Viscosity `yaml:"viscosity"`
	Source         WellRef   `yaml:"source"`
}

// SolventSpec names the top-up solvent and its source well. The remainder of
// the batch volume after all reagents is drawn from here.
type SolventSpec struct {
	Name      string    `yaml:"name"`
	Source    WellRef   `yaml:"source"`
	Viscosity Viscosity `yaml:"viscosity,omitempty"` // defaults to low
}

// Destination declares where replicates land: well FirstWell of Labware for
// replicate 0, then successive wells in index order. Offset is an optional
// manual adjustment applied to every resolved position in this labware.
type Destination struct {
	Labware   string `yaml:"labware"`
	FirstWell string `yaml:"first_well"`
	Offset    Point  `yaml:"offset,omitempty"`
}

// ModuleSpec declares a temperature module target for the run.
type ModuleSpec struct {
	ID         string  `yaml:"id"`
	TargetC    float64 `yaml:"target_c"`
	TimeoutSec int     `yaml:"timeout_sec,omitempty"` // 0 = bench default
}

// Checkpoint injects an operator gate into the worklist. After names the
// phase it follows: "temperature", "dispense", "mixing", or "finalization".
// DelayMinutes inserts a timed equilibration wait before the operator gate;
// zero means gate immediately. A checkpoint with Message "" and a nonzero
// delay is a pure timed wait with no operator interaction.
type Checkpoint struct {
	After        string  `yaml:"after"`
	Message      string  `yaml:"message,omitempty"`
	DelayMinutes float64 `yaml:"delay_minutes,omitempty"`
}

// Worklist phases a checkpoint can attach to.
const (
	PhaseTemperature  = "temperature"
	PhaseDispense     = "dispense"
	PhaseMixing       = "mixing"
	PhaseFinalization = "finalization"
)

// ValidPhase reports whether s names a checkpoint attachment point.
func ValidPhase(s string) bool {
	switch s {
	case PhaseTemperature, PhaseDispense, PhaseMixing, PhaseFinalization:
		return true
	}
	return false
}

// BatchRequest is the input to the formulation calculator: the protocol's
// formulation fields, stripped of everything the pure math does not need.
// Destination wells are bound later, when the worklist is composed against
// the labware map.
type BatchRequest struct {
	Reagents      []ReagentSpec
	Solvent       SolventSpec
	TotalVolumeUL float64
	Replicates    int
}

// Validate checks protocol fields that do not need the labware library.
// Cross-file checks (well existence, capacity) happen at plan time.
func (p *Protocol) Validate() *ValidationErrors {
	ve := &ValidationErrors{}
	if p.Name == "" {
		ve.Add("name", "required")
	}
	if p.Batch.TotalVolumeUL <= 0 {
		ve.Add("batch.total_volume_ul", "must be positive")
	}
	if p.Batch.Replicates < 1 {
		ve.Add("batch.replicates", "must be at least 1")
	}
	if len(p.Reagents) == 0 {
		ve.Add("reagents", "at least one reagent required")
	}
	seen := map[string]bool{}
	for i, r := range p.Reagents {
		path := fmt.Sprintf("reagents[%d]", i)
		if r.Name == "" {
			ve.Add(path+".name", "required")
		} else if seen[r.Name] {
			ve.Add(path+".name", fmt.Sprintf("duplicate reagent %q", r.Name))
		}
		seen[r.Name] = true
		if r.TargetRatioPct <= 0 {
			ve.Add(path+".target_ratio_pct", "must be positive")
		}
		if !ValidViscosity(string(r.Viscosity)) {
			ve.Add(path+".viscosity", fmt.Sprintf("unknown viscosity class %q", r.Viscosity))
		}
		if r.Source.Labware == "" || r.Source.Well == "" {
			ve.Add(path+".source", "labware and well required")
		}
	}
	if p.Solvent.Name != "" && (p.Solvent.Source.Labware == "" || p.Solvent.Source.Well == "") {
		ve.Add("solvent.source", "labware and well required when solvent is named")
	}
	if p.Solvent.Viscosity != "" && !ValidViscosity(string(p.Solvent.Viscosity)) {
		ve.Add("solvent.viscosity", fmt.Sprintf("unknown viscosity class %q", p.Solvent.Viscosity))
	}
	if p.Destination.Labware == "" || p.Destination.FirstWell == "" {
		ve.Add("destination", "labware and first_well required")
	}
	seenMod := map[string]bool{}
	for i, m := range p.Modules {
		path := fmt.Sprintf("modules[%d]", i)
		if m.ID == "" {
			ve.Add(path+".id", "required")
		} else if seenMod[m.ID] {
			ve.Add(path+".id", fmt.Sprintf("duplicate module %q", m.ID))
		}
		seenMod[m.ID] = true
		if m.TargetC < 4 || m.TargetC > 99 {
			ve.Add(path+".target_c", "must be within 4-99 C")
		}
	}
	for i, c := range p.Checkpoints {
		path := fmt.Sprintf("checkpoints[%d]", i)
		if !ValidPhase(c.After) {
			ve.Add(path+".after", fmt.Sprintf("unknown phase %q", c.After))
		}
		if c.Message == "" && c.DelayMinutes <= 0 {
			ve.Add(path, "needs a message, a delay, or both")
		}
		if c.DelayMinutes < 0 {
			ve.Add(path+".delay_minutes", "must not be negative")
		}
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Request assembles the BatchRequest for the calculator.
func (p *Protocol) Request() BatchRequest {
	return BatchRequest{
		Reagents:      p.Reagents,
		Solvent:       p.Solvent,
		TotalVolumeUL: p.Batch.TotalVolumeUL,
		Replicates:    p.Batch.Replicates,
	}
}
