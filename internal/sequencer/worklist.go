// Package sequencer turns a validated protocol into a flat worklist and
// executes it one action at a time against the hardware driver. Composition
// is pure planning: every volume, position, and gate is fixed before the
// first physical command, so a plan can be printed, audited, and replayed.
package sequencer

import (
	"fmt"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/formulation"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/labware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/mixing"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// SourceDemand is the total draw a run takes from one source well. The
// simulator seeds reservoirs from these; `gelpilot plan` prints them as the
// operator's loading sheet.
type SourceDemand struct {
	Ref     model.WellRef    `json:"ref"`
	Target  model.WellTarget `json:"target"`
	TotalUL float64          `json:"total_ul"`
}

// Worklist is a composed run: the flat action list plus the bound plans it
// was derived from.
type Worklist struct {
	Protocol  string
	Actions   []model.Action
	Plans     []model.DispensePlan
	Wells     []model.WellTarget // destination well per replicate
	WellNames []string
	Demands   []SourceDemand
}

// Composer binds a protocol to the bench: formulation volumes through the
// calculator, wells through the labware map, transfer and mix expansion
// through the mixing engine.
type Composer struct {
	cfg  model.Config
	lw   *labware.Map
	calc *formulation.Calculator
	eng  *mixing.Engine
}

func NewComposer(cfg model.Config, lw *labware.Map) *Composer {
	return &Composer{
		cfg:  cfg,
		lw:   lw,
		calc: formulation.NewCalculator(cfg.Pipette),
		eng:  mixing.NewEngine(cfg.Pipette, cfg.Mixing),
	}
}

// Compose builds the full worklist for p. All validation that can fail a
// run happens here, before any hardware is touched: ratio and volume checks
// in the calculator, well binding in the labware map, capacity checks in
// the transfer planner.
func (c *Composer) Compose(p *model.Protocol) (*Worklist, error) {
	plans, err := c.calc.ComputeVolumes(p.Request())
	if err != nil {
		return nil, err
	}

	destDef, err := c.lw.Definition(p.Destination.Labware)
	if err != nil {
		return nil, err
	}
	firstIdx, err := c.lw.WellIndex(p.Destination.Labware, p.Destination.FirstWell)
	if err != nil {
		return nil, err
	}

	wl := &Worklist{Protocol: p.Name, Plans: plans}

	// Bind each plan: replicate r lands in well firstIdx+r, sources resolve
	// through the library plus bench calibration.
	sources := map[string]*SourceDemand{}
	var sourceOrder []string
	for i := range plans {
		dest, err := c.lw.Resolve(p.Destination.Labware, firstIdx+plans[i].Replicate, p.Destination.Offset)
		if err != nil {
			return nil, err
		}
		plans[i].Dest = dest

		src, err := c.lw.ResolveRef(plans[i].Source, model.Point{})
		if err != nil {
			return nil, fmt.Errorf("source for %s: %w", plans[i].Reagent, err)
		}
		key := plans[i].Source.String()
		if d, ok := sources[key]; ok {
			d.TotalUL += plans[i].VolumeUL
		} else {
			sources[key] = &SourceDemand{Ref: plans[i].Source, Target: src, TotalUL: plans[i].VolumeUL}
			sourceOrder = append(sourceOrder, key)
		}
	}
	for _, key := range sourceOrder {
		wl.Demands = append(wl.Demands, *sources[key])
	}

	byWell := groupByReplicate(plans)
	for r := range byWell {
		dest, err := c.lw.Resolve(p.Destination.Labware, firstIdx+r, p.Destination.Offset)
		if err != nil {
			return nil, err
		}
		wl.Wells = append(wl.Wells, dest)
		name, err := c.lw.WellName(p.Destination.Labware, firstIdx+r)
		if err != nil {
			return nil, err
		}
		wl.WellNames = append(wl.WellNames, name)
	}

	// Phase 1: bring every module to target, then gate on stability.
	for _, m := range p.Modules {
		wl.Actions = append(wl.Actions, model.Action{
			Kind:     model.ActionSetModuleTemp,
			ModuleID: m.ID,
			TargetC:  m.TargetC,
		})
	}
	for _, m := range p.Modules {
		timeout := m.TimeoutSec
		if timeout <= 0 {
			timeout = c.cfg.Thermal.DefaultTimeoutSec
		}
		wl.Actions = append(wl.Actions, model.Action{
			Kind:       model.ActionPauseForTemp,
			ModuleID:   m.ID,
			TargetC:    m.TargetC,
			TimeoutSec: timeout,
		})
	}
	wl.appendCheckpoints(p, model.PhaseTemperature)

	// Phase 2: dispense every component into every well, a fresh tip per
	// source so reagents never cross-contaminate through the pipette.
	geom := mixing.Geometry{
		WellCapacityUL: destDef.WellCapacityUL,
		WellDepthMM:    destDef.WellDepthMM,
	}
	for r, group := range byWell {
		fill := 0.0
		for _, plan := range group {
			src := sources[plan.Source.String()].Target
			g := geom
			g.CurrentFillUL = fill
			transfer := mixing.Transfer{Plan: plan, Source: src, Dest: plan.Dest}
			acts, err := c.eng.PlanTransfer(transfer, g)
			if err != nil {
				return nil, fmt.Errorf("well %s: %w", wl.WellNames[r], err)
			}
			// A zero-volume plan produces no transfer; no tip is spent on it.
			if len(acts) > 0 {
				wl.Actions = append(wl.Actions, model.Action{Kind: model.ActionPickUpTip, Reagent: plan.Reagent})
				wl.Actions = append(wl.Actions, acts...)
				wl.Actions = append(wl.Actions, model.Action{Kind: model.ActionDropTip})
			}
			fill += plan.VolumeUL
		}
	}
	wl.appendCheckpoints(p, model.PhaseDispense)

	// Phase 3: agitate each well once all its components are in. The mix
	// profile follows the most viscous component in the well; a trace of
	// high-viscosity precursor dominates how the mixture handles.
	for r, group := range byWell {
		if len(group) == 0 {
			continue
		}
		governing := group[0]
		fill := 0.0
		for _, plan := range group {
			fill += plan.VolumeUL
			if viscosityRank(plan.Viscosity) > viscosityRank(governing.Viscosity) {
				governing = plan
			}
		}
		g := geom
		g.CurrentFillUL = fill
		transfer := mixing.Transfer{Plan: governing, Source: wl.Wells[r], Dest: wl.Wells[r]}
		acts, err := c.eng.PlanMix(transfer, g)
		if err != nil {
			return nil, fmt.Errorf("mix well %s: %w", wl.WellNames[r], err)
		}
		if len(acts) == 0 {
			continue
		}
		wl.Actions = append(wl.Actions, model.Action{Kind: model.ActionPickUpTip})
		wl.Actions = append(wl.Actions, acts...)
		wl.Actions = append(wl.Actions, model.Action{Kind: model.ActionDropTip})
	}
	wl.appendCheckpoints(p, model.PhaseMixing)

	// Phase 4: shut the heat off. Finalization actions still run after an
	// operator abort so modules are never left hot unattended.
	for _, m := range p.Modules {
		wl.Actions = append(wl.Actions, model.Action{
			Kind:         model.ActionDeactivateModule,
			ModuleID:     m.ID,
			Finalization: true,
		})
	}
	wl.appendCheckpoints(p, model.PhaseFinalization)

	return wl, nil
}

// appendCheckpoints expands every protocol checkpoint declared for phase. A
// delay becomes a timed DELAY; a message becomes an operator-gated
// MANUAL_PAUSE; a checkpoint carrying both waits out the delay first.
func (w *Worklist) appendCheckpoints(p *model.Protocol, phase string) {
	for _, cp := range p.Checkpoints {
		if cp.After != phase {
			continue
		}
		if cp.DelayMinutes > 0 {
			w.Actions = append(w.Actions, model.Action{
				Kind:       model.ActionDelay,
				DurationMS: int(cp.DelayMinutes * 60_000),
			})
		}
		if cp.Message != "" {
			w.Actions = append(w.Actions, model.Action{
				Kind:    model.ActionManualPause,
				Message: cp.Message,
			})
		}
	}
}

// groupByReplicate splits the calculator's replicate-major plan list into
// per-well groups, preserving reagent order within each group.
func groupByReplicate(plans []model.DispensePlan) [][]model.DispensePlan {
	max := -1
	for _, p := range plans {
		if p.Replicate > max {
			max = p.Replicate
		}
	}
	groups := make([][]model.DispensePlan, max+1)
	for _, p := range plans {
		groups[p.Replicate] = append(groups[p.Replicate], p)
	}
	return groups
}

func viscosityRank(v model.Viscosity) int {
	switch v {
	case model.ViscosityHigh:
		return 2
	case model.ViscosityMedium:
		return 1
	}
	return 0
}
