// Package mixing plans the liquid-handling actions for one dispense: the
// aspirate/dispense transfer cycles, the trailing blow-out, and the
// viscosity-profiled agitation once a well holds its final component. The
// planner is pure; it never touches hardware and the same inputs always
// produce the same action list.
package mixing

import (
	"fmt"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// Heights above the addressed well-bottom point, in millimeters.
const (
	aspirateClearanceMM = 1.0
	dispenseClearanceMM = 2.0
	withdrawClearanceMM = 2.0
)

// volumeEpsilon swallows float residue when chunking transfer volumes, so
// 60.000000000001 uL plans three full cycles, not three plus a ghost.
const volumeEpsilon = 1e-6

// Geometry is what the planner knows about the destination well at plan
// time. CurrentFillUL is the liquid already in the well before the planned
// actions run.
type Geometry struct {
	WellCapacityUL float64
	WellDepthMM    float64
	CurrentFillUL  float64
}

// Transfer is a dispense plan bound to physical wells by the labware map.
type Transfer struct {
	Plan   model.DispensePlan
	Source model.WellTarget
	Dest   model.WellTarget
}

// Engine plans transfers and mixes under one bench's pipette and overflow
// limits.
type Engine struct {
	tipMaxUL        float64
	maxFillFraction float64
	pauseMS         int
	withdrawalMMS   float64
}

// NewEngine builds a planner from the bench pipette and mixing config.
func NewEngine(pip model.PipetteConfig, mix model.MixingConfig) *Engine {
	return &Engine{
		tipMaxUL:        pip.MaxVolumeUL,
		maxFillFraction: mix.MaxFillFraction,
		pauseMS:         mix.InterstitialPauseSec * 1000,
		withdrawalMMS:   pip.WithdrawalSpeedMMS,
	}
}

// PlanTransfer expands one bound dispense into aspirate/dispense cycles of
// at most the tip working volume, a remainder cycle when the volume does not
// divide evenly, and a final blow-out over the destination. Every ASPIRATE
// directly precedes its matching DISPENSE.
//
// When the post-dispense fill would cross the overflow threshold, a settle
// pause is inserted at the midpoint of the cycle list so the well is never
// agitated while brimming. A fill beyond physical capacity is a planning
// error, not something to attempt.
func (e *Engine) PlanTransfer(t Transfer, geom Geometry) ([]model.Action, error) {
	v := t.Plan.VolumeUL
	if v <= 0 {
		return nil, nil
	}
	fillAfter := geom.CurrentFillUL + v
	if fillAfter > geom.WellCapacityUL {
		return nil, fmt.Errorf("dispense of %.1f uL would overfill %s (%.1f of %.1f uL)",
			v, t.Dest, fillAfter, geom.WellCapacityUL)
	}

	cycles := chunkVolume(v, e.tipMaxUL)
	pauseAt := -1
	if fillAfter > e.maxFillFraction*geom.WellCapacityUL {
		if len(cycles) == 1 {
			half := cycles[0] / 2
			cycles = []float64{half, cycles[0] - half}
		}
		pauseAt = (len(cycles) + 1) / 2
	}

	src := at(t.Source, aspirateClearanceMM)
	dst := at(t.Dest, dispenseClearanceMM)

	actions := make([]model.Action, 0, 2*len(cycles)+2)
	for i, c := range cycles {
		if i == pauseAt {
			actions = append(actions, e.settlePause())
		}
		actions = append(actions,
			model.Action{Kind: model.ActionAspirate, Reagent: t.Plan.Reagent, VolumeUL: c, Source: src},
			model.Action{Kind: model.ActionDispense, Reagent: t.Plan.Reagent, VolumeUL: c, Dest: dst},
		)
	}
	actions = append(actions, model.Action{
		Kind:    model.ActionBlowOut,
		Reagent: t.Plan.Reagent,
		Dest:    at(t.Dest, geom.WellDepthMM),
	})
	return actions, nil
}

// PlanMix emits the agitation for a well whose final component has been
// dispensed. geom.CurrentFillUL is the fill at mix time, all components in.
//
// Above the overflow threshold the agitation splits into two half-cycle MIX
// actions around a settle pause, each moving half the usual mix volume, so
// displacement during agitation cannot push liquid over the rim. High
// viscosity appends a slow withdrawal move so the tip exits the gel without
// pulling bubbles.
func (e *Engine) PlanMix(t Transfer, geom Geometry) ([]model.Action, error) {
	fill := geom.CurrentFillUL
	if fill <= 0 {
		return nil, nil
	}
	if fill > geom.WellCapacityUL {
		return nil, fmt.Errorf("mix target %s reports fill %.1f uL beyond capacity %.1f uL",
			t.Dest, fill, geom.WellCapacityUL)
	}

	profile := ProfileFor(t.Plan.Viscosity)
	mixVol := e.tipMaxUL
	if half := fill / 2; half < mixVol {
		mixVol = half
	}
	// The MIX action addresses the raw well point; the executor positions
	// each cycle at Dest plus the profile z offset, so offsets are true
	// heights above the well bottom.
	dst := t.Dest

	var actions []model.Action
	if fill > e.maxFillFraction*geom.WellCapacityUL {
		first := (profile.Cycles + 1) / 2
		second := profile.Cycles - first
		actions = append(actions, model.Action{
			Kind:       model.ActionMix,
			Reagent:    t.Plan.Reagent,
			VolumeUL:   mixVol / 2,
			Cycles:     first,
			ZOffsetsMM: profile.ZOffsetsMM,
			Dest:       dst,
		})
		actions = append(actions, e.settlePause())
		if second > 0 {
			actions = append(actions, model.Action{
				Kind:       model.ActionMix,
				Reagent:    t.Plan.Reagent,
				VolumeUL:   mixVol / 2,
				Cycles:     second,
				ZOffsetsMM: profile.ZOffsetsMM,
				Dest:       dst,
			})
		}
	} else {
		actions = append(actions, model.Action{
			Kind:       model.ActionMix,
			Reagent:    t.Plan.Reagent,
			VolumeUL:   mixVol,
			Cycles:     profile.Cycles,
			ZOffsetsMM: profile.ZOffsetsMM,
			Dest:       dst,
		})
	}

	if profile.SlowWithdrawal {
		actions = append(actions, model.Action{
			Kind:     model.ActionMoveTo,
			Dest:     at(t.Dest, geom.WellDepthMM+withdrawClearanceMM),
			SpeedMMS: e.withdrawalMMS,
		})
	}
	return actions, nil
}

func (e *Engine) settlePause() model.Action {
	return model.Action{
		Kind:       model.ActionPause,
		DurationMS: e.pauseMS,
		Message:    "settle before continuing",
	}
}

// chunkVolume splits v into full tip-volume cycles plus one remainder cycle.
func chunkVolume(v, tipMax float64) []float64 {
	if tipMax <= 0 || v <= tipMax {
		return []float64{v}
	}
	full := int(v / tipMax)
	rem := v - float64(full)*tipMax
	cycles := make([]float64, 0, full+1)
	for i := 0; i < full; i++ {
		cycles = append(cycles, tipMax)
	}
	if rem > volumeEpsilon {
		cycles = append(cycles, rem)
	}
	return cycles
}

// at returns target addressed clearanceMM above its well-bottom point.
func at(target model.WellTarget, clearanceMM float64) model.WellTarget {
	target.Position = target.Position.Add(model.Point{Z: clearanceMM})
	return target
}
