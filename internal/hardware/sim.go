package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

const (
	// ambientC is where deactivated modules drift back to.
	ambientC = 22.0

	// snapToleranceMM groups nearby positions into one virtual well, so the
	// lateral sweep offsets used during agitation address the same liquid
	// as the centered dispense that filled it.
	snapToleranceMM = 4.0

	// defaultThermalAlpha is the per-read fraction of the remaining gap a
	// module closes toward its target. Deterministic: no wall clock.
	defaultThermalAlpha = 0.5

	volumeEpsilonUL = 1e-6
)

// Sim is a deterministic in-memory bench. It tracks tip state, liquid in
// every virtual well, and module temperatures, and rejects physically
// impossible commands the way real firmware would. Faults are scripted, so
// sequencer and coordinator tests replay exact failure timelines.
type Sim struct {
	mu sync.Mutex

	pipette model.PipetteConfig

	pos      model.Point
	hasTip   bool
	tipUL    float64
	tipsUsed int

	wells   []*simWell
	modules map[string]*simModule

	alpha float64

	// Fault injection. failAfter < 0 means disabled; otherwise every
	// command past that count fails. Temperature reads never count: they
	// are polling, not actions.
	failAfter int
	commands  int
}

type simWell struct {
	center   model.Point
	volumeUL float64
}

type simModule struct {
	currentC     float64
	targetC      float64
	heating      bool
	faulted      bool
	faultReason  string
	readFailures int
}

// NewSim builds an empty bench for the given pipette. Seed liquid with
// SeedWell and register temperature modules with AddModule before running.
func NewSim(pipette model.PipetteConfig) *Sim {
	return &Sim{
		pipette:   pipette,
		modules:   make(map[string]*simModule),
		alpha:     defaultThermalAlpha,
		failAfter: -1,
	}
}

// SeedWell places liquid on the virtual deck at pos.
func (s *Sim) SeedWell(pos model.Point, volumeUL float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wellAt(pos).volumeUL = volumeUL
}

// AddModule registers a temperature module idling at startC.
func (s *Sim) AddModule(moduleID string, startC float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[moduleID] = &simModule{currentC: startC}
}

// SetThermalResponse overrides how fast modules approach target: each read
// closes alpha of the remaining gap. Alpha 1 stabilizes in one read.
func (s *Sim) SetThermalResponse(alpha float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alpha = alpha
}

// FailAfter makes every command past the first n fail with an injected
// hardware error. Temperature reads are exempt.
func (s *Sim) FailAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// FaultModule trips a permanent hardware fault on moduleID. Subsequent
// reads report Faulted; commands against it fail with *model.ModuleFaultError.
func (s *Sim) FaultModule(moduleID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.modules[moduleID]; ok {
		m.faulted = true
		m.faultReason = reason
	}
}

// FailReads makes the next n temperature reads of moduleID return a
// transient error, simulating a flaky sensor link.
func (s *Sim) FailReads(moduleID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.modules[moduleID]; ok {
		m.readFailures = n
	}
}

func (s *Sim) MoveTo(ctx context.Context, pos model.Point, speedMMS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	if speedMMS < 0 {
		return fmt.Errorf("negative gantry speed %.1f", speedMMS)
	}
	s.pos = pos
	return nil
}

func (s *Sim) PickUpTip(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	if s.hasTip {
		return fmt.Errorf("pick up tip: a tip is already attached")
	}
	s.hasTip = true
	s.tipsUsed++
	return nil
}

func (s *Sim) DropTip(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	if !s.hasTip {
		return fmt.Errorf("drop tip: no tip attached")
	}
	s.hasTip = false
	s.tipUL = 0
	return nil
}

func (s *Sim) Aspirate(ctx context.Context, volumeUL float64, pos model.Point, rateULS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	if !s.hasTip {
		return fmt.Errorf("aspirate: no tip attached")
	}
	if volumeUL <= 0 {
		return fmt.Errorf("aspirate: volume %.2f uL must be positive", volumeUL)
	}
	if s.tipUL+volumeUL > s.pipette.MaxVolumeUL+volumeEpsilonUL {
		return fmt.Errorf("aspirate: %.2f uL would exceed tip capacity %.2f uL (holding %.2f)",
			volumeUL, s.pipette.MaxVolumeUL, s.tipUL)
	}
	w := s.wellAt(pos)
	if w.volumeUL+volumeEpsilonUL < volumeUL {
		return fmt.Errorf("aspirate: well at %s holds %.2f uL, wanted %.2f", pos, w.volumeUL, volumeUL)
	}
	w.volumeUL -= volumeUL
	s.tipUL += volumeUL
	s.pos = pos
	return nil
}

func (s *Sim) Dispense(ctx context.Context, volumeUL float64, pos model.Point, rateULS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	if !s.hasTip {
		return fmt.Errorf("dispense: no tip attached")
	}
	if volumeUL > s.tipUL+volumeEpsilonUL {
		return fmt.Errorf("dispense: tip holds %.2f uL, wanted %.2f", s.tipUL, volumeUL)
	}
	w := s.wellAt(pos)
	w.volumeUL += volumeUL
	s.tipUL -= volumeUL
	if s.tipUL < 0 {
		s.tipUL = 0
	}
	s.pos = pos
	return nil
}

func (s *Sim) BlowOut(ctx context.Context, pos model.Point, rateULS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	if !s.hasTip {
		return fmt.Errorf("blow out: no tip attached")
	}
	if s.tipUL > 0 {
		s.wellAt(pos).volumeUL += s.tipUL
		s.tipUL = 0
	}
	s.pos = pos
	return nil
}

func (s *Sim) SetModuleTemperature(ctx context.Context, moduleID string, targetC float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	m, ok := s.modules[moduleID]
	if !ok {
		return fmt.Errorf("unknown module %q", moduleID)
	}
	if m.faulted {
		return &model.ModuleFaultError{ModuleID: moduleID, Reason: m.faultReason}
	}
	m.targetC = targetC
	m.heating = true
	return nil
}

// ReadModuleTemperature advances the thermal model one tick and reports the
// module. A faulted module reads back Faulted with a nil error; turning that
// into a run-fatal condition is the coordinator's call.
func (s *Sim) ReadModuleTemperature(ctx context.Context, moduleID string) (model.ModuleReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return model.ModuleReading{}, err
	}
	m, ok := s.modules[moduleID]
	if !ok {
		return model.ModuleReading{}, fmt.Errorf("unknown module %q", moduleID)
	}
	if m.readFailures > 0 {
		m.readFailures--
		return model.ModuleReading{}, fmt.Errorf("module %s: sensor read failed", moduleID)
	}
	if m.faulted {
		return model.ModuleReading{
			CurrentC:    m.currentC,
			TargetC:     m.targetC,
			Faulted:     true,
			FaultReason: m.faultReason,
		}, nil
	}

	goal := ambientC
	if m.heating {
		goal = m.targetC
	}
	m.currentC += (goal - m.currentC) * s.alpha

	return model.ModuleReading{CurrentC: m.currentC, TargetC: m.targetC}, nil
}

func (s *Sim) DeactivateModule(ctx context.Context, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandGate(ctx); err != nil {
		return err
	}
	m, ok := s.modules[moduleID]
	if !ok {
		return fmt.Errorf("unknown module %q", moduleID)
	}
	if m.faulted {
		return &model.ModuleFaultError{ModuleID: moduleID, Reason: m.faultReason}
	}
	m.heating = false
	m.targetC = 0
	return nil
}

// WellVolumeAt reports the liquid at pos, zero for untouched deck space.
func (s *Sim) WellVolumeAt(pos model.Point) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.findWell(pos); w != nil {
		return w.volumeUL
	}
	return 0
}

// TipsUsed reports how many tips were picked up over the run.
func (s *Sim) TipsUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tipsUsed
}

// HasTip reports whether a tip is currently attached.
func (s *Sim) HasTip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasTip
}

// TipContentsUL reports the liquid currently held in the tip.
func (s *Sim) TipContentsUL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tipUL
}

// Commands reports how many physical commands the bench accepted or
// rejected so far, excluding temperature reads.
func (s *Sim) Commands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// commandGate counts a physical command and applies cancellation and
// injected-fault checks. Callers hold s.mu.
func (s *Sim) commandGate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commands++
	if s.failAfter >= 0 && s.commands > s.failAfter {
		return fmt.Errorf("injected hardware fault on command %d", s.commands)
	}
	return nil
}

// wellAt returns the virtual well containing pos, creating it if the
// position is not within snap tolerance of any known well.
func (s *Sim) wellAt(pos model.Point) *simWell {
	if w := s.findWell(pos); w != nil {
		return w
	}
	w := &simWell{center: pos}
	s.wells = append(s.wells, w)
	return w
}

func (s *Sim) findWell(pos model.Point) *simWell {
	var best *simWell
	bestDist := math.Inf(1)
	for _, w := range s.wells {
		dx := w.center.X - pos.X
		dy := w.center.Y - pos.Y
		d := math.Hypot(dx, dy)
		if d < bestDist {
			best, bestDist = w, d
		}
	}
	if best != nil && bestDist <= snapToleranceMM {
		return best
	}
	return nil
}
