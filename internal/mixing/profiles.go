package mixing

import "github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"

// Profile is the agitation recipe for one viscosity class. ZOffsetsMM are
// heights above the well bottom; the executor cycles through them in order,
// wrapping, so a two-entry profile alternates and a three-entry profile
// rotates through the liquid column.
type Profile struct {
	Cycles         int
	ZOffsetsMM     []float64
	SlowWithdrawal bool
}

// Watery components need little agitation. Concentrated HA-NB and similar
// viscous precursors stratify, so they get more cycles across more heights
// and a slow exit move to avoid pulling bubbles into the gel.
var profiles = map[model.Viscosity]Profile{
	model.ViscosityLow: {
		Cycles:     3,
		ZOffsetsMM: []float64{1.0},
	},
	model.ViscosityMedium: {
		Cycles:     5,
		ZOffsetsMM: []float64{1.0, 3.0},
	},
	model.ViscosityHigh: {
		Cycles:         8,
		ZOffsetsMM:     []float64{1.0, 3.0, 5.0},
		SlowWithdrawal: true,
	},
}

// ProfileFor returns the agitation profile for v. Unrecognized classes fall
// back to the high-viscosity profile: over-mixing a watery component wastes
// seconds, under-mixing a viscous one ruins the batch.
func ProfileFor(v model.Viscosity) Profile {
	if p, ok := profiles[v]; ok {
		return p
	}
	return profiles[model.ViscosityHigh]
}
