package sequencer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/labware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

func testLibrary() model.LabwareLibrary {
	return model.LabwareLibrary{
		SchemaVersion: 1,
		FileType:      model.FileTypeLabwareLibrary,
		Labware: []model.LabwareDef{
			{
				ID: "plate_96well", Rows: 8, Columns: 12,
				WellCapacityUL: 360, WellDepthMM: 10.5, WellSpacingMM: 9,
				Origin: model.Point{X: 14.38, Y: 74.24, Z: 10.5},
			},
			{
				ID: "reservoir_12well", Rows: 1, Columns: 12,
				WellCapacityUL: 15000, WellDepthMM: 26.85, WellSpacingMM: 9,
				Origin: model.Point{X: 13.94, Y: 42.9, Z: 37.0},
			},
		},
	}
}

func testMap(t *testing.T) *labware.Map {
	t.Helper()
	m, err := labware.NewMap(testLibrary(), nil)
	require.NoError(t, err)
	return m
}

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Notifications.Enabled = false
	return cfg
}

// Two precursors at 50/50 filling the whole batch, so no solvent top-up.
func testProtocol() *model.Protocol {
	return &model.Protocol{
		SchemaVersion: 1,
		FileType:      model.FileTypeProtocol,
		Name:          "photoink_50_50",
		Batch:         model.BatchSpec{TotalVolumeUL: 200, Replicates: 2},
		Reagents: []model.ReagentSpec{
			{
				Name: "gelma_5pct", TargetRatioPct: 50, Solvent: "PBS",
				Viscosity: model.ViscosityHigh,
				Source:    model.WellRef{Labware: "reservoir_12well", Well: "A1"},
			},
			{
				Name: "hanb_5pct", TargetRatioPct: 50, Solvent: "PBS",
				Viscosity: model.ViscosityLow,
				Source:    model.WellRef{Labware: "reservoir_12well", Well: "A2"},
			},
		},
		Destination: model.Destination{Labware: "plate_96well", FirstWell: "A1"},
		Modules:     []model.ModuleSpec{{ID: "temp_mod_1", TargetC: 80}},
		Checkpoints: []model.Checkpoint{
			{After: model.PhaseMixing, Message: "inspect wells before curing"},
		},
	}
}

func kinds(actions []model.Action) []model.ActionKind {
	ks := make([]model.ActionKind, len(actions))
	for i, a := range actions {
		ks[i] = a.Kind
	}
	return ks
}

func TestCompose_PhaseOrder(t *testing.T) {
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(testProtocol())
	require.NoError(t, err)
	require.NotEmpty(t, wl.Actions)

	ks := kinds(wl.Actions)
	assert.Equal(t, model.ActionSetModuleTemp, ks[0])
	assert.Equal(t, model.ActionPauseForTemp, ks[1])

	// Phase boundaries: every DISPENSE precedes every MIX, the checkpoint
	// follows mixing, and finalization comes last.
	lastDispense, firstMix, pauseIdx, deactIdx := -1, -1, -1, -1
	for i, k := range ks {
		switch k {
		case model.ActionDispense:
			lastDispense = i
		case model.ActionMix:
			if firstMix == -1 {
				firstMix = i
			}
		case model.ActionManualPause:
			pauseIdx = i
		case model.ActionDeactivateModule:
			deactIdx = i
		}
	}
	require.Greater(t, firstMix, 0, "no mix actions composed")
	assert.Less(t, lastDispense, firstMix)
	assert.Greater(t, pauseIdx, firstMix)
	assert.Equal(t, len(ks)-1, deactIdx)
	assert.True(t, wl.Actions[deactIdx].Finalization)
}

func TestCompose_FreshTipPerReagentAndPerMix(t *testing.T) {
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(testProtocol())
	require.NoError(t, err)

	pickups, drops := 0, 0
	for _, a := range wl.Actions {
		switch a.Kind {
		case model.ActionPickUpTip:
			pickups++
		case model.ActionDropTip:
			drops++
		}
	}
	// 2 reagents x 2 wells for transfers, plus one tip per well for mixing.
	assert.Equal(t, 6, pickups)
	assert.Equal(t, pickups, drops)
}

func TestCompose_ZeroVolumePlanSpendsNoTip(t *testing.T) {
	p := testProtocol()
	p.Reagents[0].TargetRatioPct = 0
	p.Reagents[1].TargetRatioPct = 100

	wl, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	require.NoError(t, err)

	pickups := 0
	for _, a := range wl.Actions {
		if a.Kind == model.ActionPickUpTip {
			pickups++
			assert.NotEqual(t, p.Reagents[0].Name, a.Reagent,
				"no tip for a reagent with nothing to dispense")
		}
	}
	// One transfer tip per well plus one mix tip per well; the zero-volume
	// component gets neither.
	assert.Equal(t, 4, pickups)
}

func TestCompose_AspirateAlwaysPrecedesItsDispense(t *testing.T) {
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(testProtocol())
	require.NoError(t, err)

	pending := 0.0
	for _, a := range wl.Actions {
		switch a.Kind {
		case model.ActionAspirate:
			pending += a.VolumeUL
		case model.ActionDispense:
			pending -= a.VolumeUL
			assert.GreaterOrEqual(t, pending, -1e-9, "dispense without a matching aspirate")
		}
	}
	assert.InDelta(t, 0, pending, 1e-9)
}

func TestCompose_MixFollowsMostViscousComponent(t *testing.T) {
	// gelma is high viscosity, hanb low; the well's agitation must use the
	// high profile (8 cycles) with the slow withdrawal move.
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(testProtocol())
	require.NoError(t, err)

	var mixes []model.Action
	sawWithdrawal := false
	for i, a := range wl.Actions {
		if a.Kind == model.ActionMix {
			mixes = append(mixes, a)
			if i+1 < len(wl.Actions) && wl.Actions[i+1].Kind == model.ActionMoveTo {
				sawWithdrawal = true
			}
		}
	}
	require.Len(t, mixes, 2, "one mix per destination well")
	for _, m := range mixes {
		assert.Equal(t, 8, m.Cycles)
		assert.Equal(t, []float64{1.0, 3.0, 5.0}, m.ZOffsetsMM)
	}
	assert.True(t, sawWithdrawal, "high viscosity mix must end with a slow withdrawal")
}

func TestCompose_ReplicatesLandInSuccessiveWells(t *testing.T) {
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(testProtocol())
	require.NoError(t, err)

	require.Equal(t, []string{"A1", "A2"}, wl.WellNames)
	require.Len(t, wl.Wells, 2)
	// A2 sits one column spacing right of A1.
	assert.InDelta(t, wl.Wells[0].Position.X+9.0, wl.Wells[1].Position.X, 1e-9)
	assert.InDelta(t, wl.Wells[0].Position.Y, wl.Wells[1].Position.Y, 1e-9)
}

func TestCompose_SourceDemands(t *testing.T) {
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(testProtocol())
	require.NoError(t, err)

	require.Len(t, wl.Demands, 2)
	for _, d := range wl.Demands {
		// 100 uL per well, two wells per source.
		assert.InDelta(t, 200, d.TotalUL, 1e-9, "demand for %s", d.Ref)
	}
}

func TestCompose_ChecksDestinationBinding(t *testing.T) {
	p := testProtocol()
	p.Destination.Labware = "plate_384well"
	_, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	var unknownErr *model.UnknownLabwareError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "plate_384well", unknownErr.LabwareID)
}

func TestCompose_ReplicatesBeyondPlateRejected(t *testing.T) {
	p := testProtocol()
	p.Destination.FirstWell = "H12" // last well, second replicate falls off
	_, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	var rangeErr *model.WellRangeError
	require.ErrorAs(t, err, &rangeErr)
}

func TestCompose_OverfillRejectedAtPlanTime(t *testing.T) {
	p := testProtocol()
	p.Batch.TotalVolumeUL = 400 // past the 360 uL well capacity
	_, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overfill")
}

func TestCompose_RatioErrorSurfaces(t *testing.T) {
	p := testProtocol()
	p.Reagents[0].TargetRatioPct = 70 // 70 + 50 = 120
	_, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	var ratioErr *model.RatioError
	require.True(t, errors.As(err, &ratioErr))
	assert.InDelta(t, 120, ratioErr.SumPct, 1e-9)
}

func TestCompose_CheckpointDelayThenGate(t *testing.T) {
	p := testProtocol()
	p.Checkpoints = []model.Checkpoint{
		{After: model.PhaseTemperature, DelayMinutes: 10, Message: "confirm modules holding"},
	}
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	require.NoError(t, err)

	ks := kinds(wl.Actions)
	// The equilibration delay and its gate sit between the temperature
	// phase and the first tip pickup.
	var delayIdx, pauseIdx, firstPickup int
	for i, k := range ks {
		switch k {
		case model.ActionDelay:
			delayIdx = i
		case model.ActionManualPause:
			pauseIdx = i
		case model.ActionPickUpTip:
			if firstPickup == 0 {
				firstPickup = i
			}
		}
	}
	assert.Equal(t, delayIdx+1, pauseIdx, "delay runs out before the operator gate")
	assert.Less(t, pauseIdx, firstPickup)
	assert.Equal(t, 600_000, wl.Actions[delayIdx].DurationMS)
}

func TestCompose_NoModulesMeansNoThermalActions(t *testing.T) {
	p := testProtocol()
	p.Modules = nil
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	require.NoError(t, err)
	for _, a := range wl.Actions {
		assert.NotContains(t, []model.ActionKind{
			model.ActionSetModuleTemp, model.ActionPauseForTemp, model.ActionDeactivateModule,
		}, a.Kind)
	}
}

func TestCompose_SolventRemainderGetsItsOwnTransfer(t *testing.T) {
	p := testProtocol()
	p.Reagents[0].TargetRatioPct = 30
	p.Reagents[1].TargetRatioPct = 30
	p.Solvent = model.SolventSpec{
		Name:   "pbs",
		Source: model.WellRef{Labware: "reservoir_12well", Well: "A12"},
	}
	wl, err := NewComposer(testConfig(), testMap(t)).Compose(p)
	require.NoError(t, err)

	// Three components per well now: two reagents plus the solvent top-up.
	pickups := 0
	for _, a := range wl.Actions {
		if a.Kind == model.ActionPickUpTip {
			pickups++
		}
	}
	assert.Equal(t, 8, pickups, "3 transfers per well x 2 wells + 2 mix tips")

	var solvent *SourceDemand
	for i := range wl.Demands {
		if wl.Demands[i].Ref.Well == "A12" {
			solvent = &wl.Demands[i]
		}
	}
	require.NotNil(t, solvent, "solvent source missing from demands")
	assert.InDelta(t, 160, solvent.TotalUL, 1e-9, "40%% remainder of 200 uL x 2 wells")
}
