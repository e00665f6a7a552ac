// Package formulation turns a protocol's component ratios into concrete
// per-well dispense volumes. Everything here is pure arithmetic: no I/O, no
// clock, no hardware. The same request always yields the same plans.
package formulation

import (
	"fmt"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// ratioEpsilon absorbs float accumulation when ratios are authored as
// decimals (33.3 three times must not trip the closed-system check).
const ratioEpsilon = 1e-9

// Calculator computes dispense plans under one pipette's physical limits.
type Calculator struct {
	minVolumeUL float64
	channels    int
}

// NewCalculator builds a calculator for the bench pipette.
func NewCalculator(pip model.PipetteConfig) *Calculator {
	return &Calculator{
		minVolumeUL: pip.MinVolumeUL,
		channels:    pip.Channels,
	}
}

// ComputeVolumes expands a batch request into one DispensePlan per reagent
// per replicate, reagents in protocol order, the solvent top-up last.
//
// Ratios summing over 100% fail immediately with *model.RatioError: the
// formulation is a closed system and there is no volume left to give.
// Reagent volumes that land below the pipette floor are collected across
// all reagents into *model.ValidationErrors, so a protocol with three
// unrealizable components reports all three in one round.
//
// The solvent plan carries the remainder of the batch volume. A formulation
// whose ratios sum to exactly 100% leaves no remainder and emits no solvent
// plan. Negative remainders cannot occur past the ratio check but are
// clamped to zero regardless.
func (c *Calculator) ComputeVolumes(req model.BatchRequest) ([]model.DispensePlan, error) {
	var sumPct float64
	for _, r := range req.Reagents {
		sumPct += r.TargetRatioPct
	}
	if sumPct > 100.0+ratioEpsilon {
		return nil, &model.RatioError{SumPct: sumPct}
	}

	ve := &model.ValidationErrors{}
	volumes := make([]float64, len(req.Reagents))
	for i, r := range req.Reagents {
		v := req.TotalVolumeUL * r.TargetRatioPct / 100.0
		if v > 0 && v < c.minVolumeUL {
			ve.AddError(
				fmt.Sprintf("reagents[%d]", i),
				&model.VolumeError{Reagent: r.Name, VolumeUL: v, MinUL: c.minVolumeUL},
			)
		}
		volumes[i] = v
	}
	if ve.HasErrors() {
		return nil, ve
	}

	var dispensed float64
	for _, v := range volumes {
		dispensed += v
	}
	remainder := req.TotalVolumeUL - dispensed
	if remainder < 0 {
		remainder = 0
	}

	replicates := req.Replicates
	if replicates < 1 {
		replicates = 1
	}

	perWell := len(req.Reagents)
	if remainder > 0 {
		perWell++
	}
	plans := make([]model.DispensePlan, 0, perWell*replicates)
	for rep := 0; rep < replicates; rep++ {
		for i, r := range req.Reagents {
			plans = append(plans, model.DispensePlan{
				Reagent:      r.Name,
				VolumeUL:     volumes[i],
				Viscosity:    r.Viscosity,
				Source:       r.Source,
				Replicate:    rep,
				ChannelCount: c.channels,
			})
		}
		if remainder > 0 {
			plans = append(plans, model.DispensePlan{
				Reagent:      req.Solvent.Name,
				VolumeUL:     remainder,
				Viscosity:    solventViscosity(req.Solvent),
				Source:       req.Solvent.Source,
				Replicate:    rep,
				ChannelCount: c.channels,
				IsSolvent:    true,
			})
		}
	}
	return plans, nil
}

func solventViscosity(s model.SolventSpec) model.Viscosity {
	if s.Viscosity == "" {
		return model.ViscosityLow
	}
	return s.Viscosity
}
