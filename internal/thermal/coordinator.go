// Package thermal coordinates the bench's temperature modules: one state
// machine per module (idle, heating, stable, fault), a background poll loop
// feeding status and events, and the blocking stability gate the sequencer
// calls before any heat-sensitive dispense.
//
// A fault reported by the hardware is the one run-fatal condition here.
// Transient sensor read errors are tolerated up to a configured streak;
// everything else the caller decides via the bench timeout policy.
package thermal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/events"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/hardware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

type moduleState struct {
	snap model.ModuleState

	settleStreak int
	readFailures int
	faultReason  string
}

// Coordinator tracks every registered module against one hardware driver.
// All methods are safe for concurrent use; the poll loop and the sequencer's
// gates share the same state.
type Coordinator struct {
	driver hardware.Driver
	cfg    model.ThermalConfig
	bus    *events.Bus // optional; nil disables event publishing

	mu      sync.Mutex
	modules map[string]*moduleState
	fault   *model.ModuleFaultError // first fault wins, never cleared

	// Test seams. Production uses the real clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator builds a coordinator with no registered modules.
func NewCoordinator(driver hardware.Driver, cfg model.ThermalConfig, bus *events.Bus) *Coordinator {
	return &Coordinator{
		driver:  driver,
		cfg:     cfg,
		bus:     bus,
		modules: make(map[string]*moduleState),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetClock overrides time for tests. sleep must honor ctx cancellation.
func (c *Coordinator) SetClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	c.sleep = sleep
}

// Register adds a module in the idle state. Registering twice is an error;
// module IDs come from the protocol file, which validation deduplicates.
func (c *Coordinator) Register(moduleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.modules[moduleID]; ok {
		return fmt.Errorf("module %q already registered", moduleID)
	}
	c.modules[moduleID] = &moduleState{
		snap: model.ModuleState{ModuleID: moduleID, Status: model.ModuleStatusIdle},
	}
	return nil
}

// SetTarget commands moduleID toward targetC and moves it to heating. When
// the module is already converging on (or holding) a target within the
// stability tolerance of the new one, the call is a no-op: monitoring
// continues and the hardware is not re-commanded.
func (c *Coordinator) SetTarget(ctx context.Context, moduleID string, targetC float64) error {
	c.mu.Lock()
	st, ok := c.modules[moduleID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("module %q not registered", moduleID)
	}
	if st.snap.Status == model.ModuleStatusFault {
		err := c.faultFor(st)
		c.mu.Unlock()
		return err
	}
	if st.snap.Status != model.ModuleStatusIdle &&
		math.Abs(st.snap.TargetC-targetC) <= c.cfg.StableToleranceC {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Command the hardware outside the lock; driver calls block.
	if err := c.driver.SetModuleTemperature(ctx, moduleID, targetC); err != nil {
		return c.noteCommandError(moduleID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st.snap.TargetC = targetC
	st.settleStreak = 0
	if st.snap.Status != model.ModuleStatusHeating {
		if err := model.ValidateModuleTransition(st.snap.Status, model.ModuleStatusHeating); err != nil {
			return err
		}
		st.snap.Status = model.ModuleStatusHeating
	}
	return nil
}

// AwaitStable blocks until moduleID has held within the stability tolerance
// for the configured number of consecutive samples, the timeout elapses, or
// the module faults.
//
// Returns (true, nil) on stable, (false, nil) on timeout so the caller can
// apply the bench timeout policy, and (false, *model.ModuleFaultError) on
// fault. Cancellation is checked every poll.
func (c *Coordinator) AwaitStable(ctx context.Context, moduleID string, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if _, ok := c.modules[moduleID]; !ok {
		c.mu.Unlock()
		return false, fmt.Errorf("module %q not registered", moduleID)
	}
	now := c.now
	sleep := c.sleep
	c.mu.Unlock()

	interval := c.pollInterval()
	deadline := now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		switch status, err := c.sample(ctx, moduleID); {
		case err != nil:
			return false, err
		case status == model.ModuleStatusStable:
			return true, nil
		}

		remaining := deadline.Sub(now())
		if remaining <= 0 {
			return false, nil
		}
		d := interval
		if remaining < d {
			d = remaining
		}
		if err := sleep(ctx, d); err != nil {
			return false, err
		}
	}
}

// Run is the background monitor: it samples every registered module at the
// poll interval until ctx is cancelled. Always returns nil; faults surface
// through FirstFault and the gates, not through the group error.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, id := range c.moduleIDs() {
				// Sampling errors are already folded into module state.
				_, _ = c.sample(ctx, id)
			}
		}
	}
}

// Deactivate turns moduleID's heater off and returns it to idle.
func (c *Coordinator) Deactivate(ctx context.Context, moduleID string) error {
	c.mu.Lock()
	st, ok := c.modules[moduleID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("module %q not registered", moduleID)
	}
	if st.snap.Status == model.ModuleStatusFault {
		err := c.faultFor(st)
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := c.driver.DeactivateModule(ctx, moduleID); err != nil {
		return c.noteCommandError(moduleID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.snap.Status != model.ModuleStatusIdle {
		if err := model.ValidateModuleTransition(st.snap.Status, model.ModuleStatusIdle); err != nil {
			return err
		}
		st.snap.Status = model.ModuleStatusIdle
	}
	st.snap.TargetC = 0
	st.settleStreak = 0
	return nil
}

// Observe returns the last snapshot for moduleID.
func (c *Coordinator) Observe(moduleID string) (model.ModuleState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.modules[moduleID]
	if !ok {
		return model.ModuleState{}, false
	}
	return st.snap, true
}

// States returns every module snapshot, ordered by ID for stable rendering.
func (c *Coordinator) States() []model.ModuleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ModuleState, 0, len(c.modules))
	for _, st := range c.modules {
		out = append(out, st.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

// FirstFault returns the first module fault seen, or nil. The executor
// checks this before dispatching each action so a fault detected by the
// background monitor halts the run at the next action boundary.
func (c *Coordinator) FirstFault() *model.ModuleFaultError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// sample reads moduleID once and folds the reading into its state machine.
// Returns the resulting status, or the fault error once the module is done.
func (c *Coordinator) sample(ctx context.Context, moduleID string) (model.ModuleStatus, error) {
	reading, readErr := c.driver.ReadModuleTemperature(ctx, moduleID)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.modules[moduleID]
	if !ok {
		return "", fmt.Errorf("module %q not registered", moduleID)
	}
	if st.snap.Status == model.ModuleStatusFault {
		return st.snap.Status, c.faultFor(st)
	}

	if readErr != nil {
		if ctx.Err() != nil {
			return st.snap.Status, readErr
		}
		st.readFailures++
		if st.readFailures >= c.maxReadFailures() {
			return c.tripFault(st, fmt.Sprintf("%d consecutive sensor read failures: %v", st.readFailures, readErr))
		}
		return st.snap.Status, nil
	}
	st.readFailures = 0

	if reading.Faulted {
		return c.tripFault(st, reading.FaultReason)
	}

	st.snap.ObservedC = reading.CurrentC
	if st.snap.Status == model.ModuleStatusHeating || st.snap.Status == model.ModuleStatusStable {
		if math.Abs(reading.CurrentC-st.snap.TargetC) <= c.cfg.StableToleranceC {
			st.settleStreak++
			if st.snap.Status == model.ModuleStatusHeating && st.settleStreak >= c.settleSamples() {
				st.snap.Status = model.ModuleStatusStable
			}
		} else {
			st.settleStreak = 0
			// A stable module drifting out of tolerance goes back to heating.
			if st.snap.Status == model.ModuleStatusStable {
				st.snap.Status = model.ModuleStatusHeating
			}
		}
	}

	c.publishLocked(st)
	return st.snap.Status, nil
}

// tripFault moves st to fault and records the run-level fault. Callers hold
// c.mu.
func (c *Coordinator) tripFault(st *moduleState, reason string) (model.ModuleStatus, error) {
	st.snap.Status = model.ModuleStatusFault
	st.faultReason = reason
	err := &model.ModuleFaultError{ModuleID: st.snap.ModuleID, Reason: reason}
	if c.fault == nil {
		c.fault = err
	}
	c.publishLocked(st)
	return st.snap.Status, err
}

// noteCommandError records a fault when a module command failed with a
// hardware fault; other command errors pass through untouched.
func (c *Coordinator) noteCommandError(moduleID string, err error) error {
	var faultErr *model.ModuleFaultError
	if errors.As(err, &faultErr) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if st, found := c.modules[moduleID]; found && st.snap.Status != model.ModuleStatusFault {
			_, _ = c.tripFault(st, faultErr.Reason)
		}
	}
	return err
}

func (c *Coordinator) faultFor(st *moduleState) *model.ModuleFaultError {
	return &model.ModuleFaultError{ModuleID: st.snap.ModuleID, Reason: st.faultReason}
}

func (c *Coordinator) publishLocked(st *moduleState) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.EventTemperatureUpdate, map[string]interface{}{
		"module_id":  st.snap.ModuleID,
		"target_c":   st.snap.TargetC,
		"observed_c": st.snap.ObservedC,
		"status":     string(st.snap.Status),
	})
}

func (c *Coordinator) moduleIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.modules))
	for id := range c.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) pollInterval() time.Duration {
	if c.cfg.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.cfg.PollIntervalMS) * time.Millisecond
}

func (c *Coordinator) settleSamples() int {
	if c.cfg.SettleSamples <= 0 {
		return 1
	}
	return c.cfg.SettleSamples
}

func (c *Coordinator) maxReadFailures() int {
	if c.cfg.MaxReadFailures <= 0 {
		return 1
	}
	return c.cfg.MaxReadFailures
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
