package sequencer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/events"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/hardware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/notify"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/runstate"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/thermal"
)

// mixSweepMM is the lateral pattern a MIX expansion cycles through so the
// tip agitates the whole well, not one column of liquid.
var mixSweepMM = []model.Point{{X: 1}, {Y: 1}, {X: -1}, {Y: -1}}

// ThermalControl is the slice of the temperature coordinator the executor
// drives. *thermal.Coordinator satisfies it.
type ThermalControl interface {
	SetTarget(ctx context.Context, moduleID string, targetC float64) error
	AwaitStable(ctx context.Context, moduleID string, timeout time.Duration) (bool, error)
	Deactivate(ctx context.Context, moduleID string) error
	FirstFault() *model.ModuleFaultError
}

var _ ThermalControl = (*thermal.Coordinator)(nil)

// Executor walks a worklist strictly in order with exactly one physical
// action in flight. Every action gets one execution-log record; pending
// actions after a halt get none.
type Executor struct {
	driver hardware.Driver
	coord  ThermalControl
	cfg    model.Config
	bus    *events.Bus
	runLog *events.RunLog
	store  *runstate.Store
	state  *model.RunState
	gate   *Gate

	// Seams for tests: desktop notification and timed waits.
	notifySender func(title, message string) error
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	driver hardware.Driver,
	coord ThermalControl,
	cfg model.Config,
	bus *events.Bus,
	runLog *events.RunLog,
	store *runstate.Store,
	state *model.RunState,
	gate *Gate,
) *Executor {
	e := &Executor{
		driver:       driver,
		coord:        coord,
		cfg:          cfg,
		bus:          bus,
		runLog:       runLog,
		store:        store,
		state:        state,
		gate:         gate,
		notifySender: notify.Alert,
		sleep:        sleepCtx,
	}
	if !cfg.Notifications.Enabled {
		e.notifySender = func(string, string) error { return nil }
	}
	return e
}

// SetNotifySender replaces the desktop notification hook.
func (e *Executor) SetNotifySender(fn func(title, message string) error) {
	e.notifySender = fn
}

// SetSleep replaces the timed-wait hook.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Execute runs the worklist and returns the terminal run status. Hardware
// commands run on an uncancellable context: SIGINT becomes an abort at the
// next action boundary, never a half-issued pipetting command. The error
// return carries the halting cause for the CLI; a clean operator abort is
// not an error.
func (e *Executor) Execute(ctx context.Context, wl *Worklist) (model.RunStatus, error) {
	hwCtx := context.WithoutCancel(ctx)

	e.state.TotalActions = len(wl.Actions)
	e.transition(model.RunStatusRunning)
	e.saveState()
	e.bus.Publish(events.EventRunStarted, map[string]interface{}{
		"run_id":        e.state.RunID,
		"protocol_name": wl.Protocol,
		"total_actions": len(wl.Actions),
	})

	final := model.RunStatusCompleted
	var haltErr error

	for i, act := range wl.Actions {
		aborted := e.gate.IsAborted() || ctx.Err() != nil
		if aborted {
			if final == model.RunStatusCompleted {
				final = model.RunStatusOperatorAborted
			}
			// Pending actions are never logged or executed; finalization
			// actions (module shutdown) still run best-effort.
			if !act.Finalization {
				continue
			}
		}

		if !aborted {
			if fault := e.coord.FirstFault(); fault != nil {
				e.record(i, act, model.OutcomeFailed, fault, 0)
				final = model.RunStatusFailed
				haltErr = fault
				break
			}
		}

		e.bus.Publish(events.EventActionStarted, map[string]interface{}{
			"action_index": i,
			"kind":         string(act.Kind),
			"summary":      act.Describe(),
		})

		start := time.Now()
		outcome, err := e.dispatch(ctx, hwCtx, i, act)
		e.record(i, act, outcome, err, time.Since(start))

		switch outcome {
		case model.OutcomeFailed:
			if final == model.RunStatusOperatorAborted {
				// A failed best-effort finalization does not rewrite how
				// the run ended.
				continue
			}
			final = model.RunStatusFailed
			haltErr = err
		case model.OutcomeOperatorAborted:
			final = model.RunStatusOperatorAborted
		}
		if final == model.RunStatusFailed {
			break
		}
	}

	e.finish(final)
	return final, haltErr
}

// dispatch issues one action. Waits (delays, temperature gates, operator
// checkpoints) run on the cancellable ctx; physical commands on hwCtx.
func (e *Executor) dispatch(ctx, hwCtx context.Context, idx int, act model.Action) (model.ActionOutcome, error) {
	switch act.Kind {
	case model.ActionPickUpTip:
		return e.outcome(e.driver.PickUpTip(hwCtx))
	case model.ActionDropTip:
		return e.outcome(e.driver.DropTip(hwCtx))
	case model.ActionMoveTo:
		return e.outcome(e.driver.MoveTo(hwCtx, act.Dest.Position, e.gantrySpeed(act)))
	case model.ActionAspirate:
		return e.outcome(e.driver.Aspirate(hwCtx, act.VolumeUL, act.Source.Position, e.cfg.Pipette.AspirateRateULS))
	case model.ActionDispense:
		return e.outcome(e.driver.Dispense(hwCtx, act.VolumeUL, act.Dest.Position, e.cfg.Pipette.DispenseRateULS))
	case model.ActionBlowOut:
		return e.outcome(e.driver.BlowOut(hwCtx, act.Dest.Position, e.cfg.Pipette.BlowoutRateULS))
	case model.ActionMix:
		return e.outcome(e.mix(hwCtx, act))
	case model.ActionPause, model.ActionDelay:
		return e.wait(ctx, act)
	case model.ActionPauseForTemp:
		return e.awaitTemperature(ctx, act)
	case model.ActionManualPause:
		return e.manualPause(ctx, act)
	case model.ActionSetModuleTemp:
		return e.outcome(e.coord.SetTarget(hwCtx, act.ModuleID, act.TargetC))
	case model.ActionDeactivateModule:
		return e.outcome(e.coord.Deactivate(hwCtx, act.ModuleID))
	}
	return model.OutcomeFailed, fmt.Errorf("unknown action kind %q at index %d", act.Kind, idx)
}

func (e *Executor) outcome(err error) (model.ActionOutcome, error) {
	if err != nil {
		return model.OutcomeFailed, err
	}
	return model.OutcomeSuccess, nil
}

// mix expands a MIX action into aspirate/dispense sweeps: cycle c aspirates
// at the c-th z offset and a rotating lateral offset, dispenses at the same
// point. The action's Dest already carries the bottom clearance.
func (e *Executor) mix(hwCtx context.Context, act model.Action) error {
	if act.Cycles <= 0 || act.VolumeUL <= 0 {
		return nil
	}
	zs := act.ZOffsetsMM
	if len(zs) == 0 {
		zs = []float64{0}
	}
	for c := 0; c < act.Cycles; c++ {
		lateral := mixSweepMM[c%len(mixSweepMM)]
		pos := act.Dest.Position.Add(lateral).Add(model.Point{Z: zs[c%len(zs)]})
		if err := e.driver.Aspirate(hwCtx, act.VolumeUL, pos, e.cfg.Pipette.AspirateRateULS); err != nil {
			return err
		}
		if err := e.driver.Dispense(hwCtx, act.VolumeUL, pos, e.cfg.Pipette.DispenseRateULS); err != nil {
			return err
		}
	}
	return nil
}

// wait sleeps out a PAUSE or DELAY. An abort or cancellation cuts the wait
// and ends the run cleanly.
func (e *Executor) wait(ctx context.Context, act model.Action) (model.ActionOutcome, error) {
	d := time.Duration(act.DurationMS) * time.Millisecond
	done := make(chan error, 1)
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { done <- e.sleep(waitCtx, d) }()

	select {
	case err := <-done:
		if err != nil {
			return model.OutcomeOperatorAborted, &model.OperatorAbortError{}
		}
		return model.OutcomeSuccess, nil
	case <-e.gate.AbortC():
		return model.OutcomeOperatorAborted, &model.OperatorAbortError{}
	}
}

// awaitTemperature gates on module stability and applies the bench timeout
// policy: abort fails the run, proceed_with_warning skips the gate and
// keeps going. An operator abort cuts the gate the same way it cuts a
// delay; it never rides out the stability timeout.
func (e *Executor) awaitTemperature(ctx context.Context, act model.Action) (model.ActionOutcome, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.gate.AbortC():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	timeout := time.Duration(act.TimeoutSec) * time.Second
	stable, err := e.coord.AwaitStable(waitCtx, act.ModuleID, timeout)
	if e.gate.IsAborted() || ctx.Err() != nil {
		return model.OutcomeOperatorAborted, &model.OperatorAbortError{}
	}
	if err != nil {
		return model.OutcomeFailed, err
	}
	if stable {
		return model.OutcomeSuccess, nil
	}
	terr := &model.AwaitTimeoutError{ModuleID: act.ModuleID, TargetC: act.TargetC, Timeout: timeout.String()}
	if e.cfg.Thermal.TimeoutPolicy == model.TimeoutPolicyProceed {
		return model.OutcomeSkipped, terr
	}
	return model.OutcomeFailed, terr
}

// manualPause blocks with no timeout until the operator acknowledges or
// aborts. The run state flips to paused so `gelpilot status` shows what the
// bench is waiting on.
func (e *Executor) manualPause(ctx context.Context, act model.Action) (model.ActionOutcome, error) {
	ack := e.gate.BeginWait(act.Message)
	defer e.gate.EndWait()

	e.transition(model.RunStatusPaused)
	e.state.Checkpoint = act.Message
	e.saveState()
	e.bus.Publish(events.EventCheckpoint, map[string]interface{}{
		"message": act.Message,
		"run_id":  e.state.RunID,
	})
	if err := e.notifySender("gelpilot checkpoint", act.Message); err != nil {
		log.Printf("warn: checkpoint notification failed: %v", err)
	}

	select {
	case <-ack:
		e.transition(model.RunStatusRunning)
		e.state.Checkpoint = ""
		e.saveState()
		e.bus.Publish(events.EventOperatorAck, map[string]interface{}{"decision": "ack", "message": act.Message})
		return model.OutcomeSuccess, nil
	case <-e.gate.AbortC():
		e.bus.Publish(events.EventOperatorAck, map[string]interface{}{"decision": "abort", "message": act.Message})
		return model.OutcomeOperatorAborted, &model.OperatorAbortError{Checkpoint: act.Message}
	case <-ctx.Done():
		return model.OutcomeOperatorAborted, &model.OperatorAbortError{Checkpoint: act.Message}
	}
}

// record appends the action's execution-log record, advances the run-state
// snapshot, and publishes the completion event. The log append is the one
// write that must not fail silently; a dead log is worth halting for, so
// the error is surfaced through the state snapshot's LastError.
func (e *Executor) record(idx int, act model.Action, outcome model.ActionOutcome, actErr error, dur time.Duration) {
	rec := &events.Record{
		ActionIndex:  idx,
		Kind:         act.Kind,
		Outcome:      outcome,
		Summary:      act.Describe(),
		Finalization: act.Finalization,
	}
	switch act.Kind {
	case model.ActionAspirate, model.ActionDispense:
		rec.Detail = map[string]interface{}{"reagent": act.Reagent, "volume_ul": act.VolumeUL}
	case model.ActionMix:
		rec.Detail = map[string]interface{}{"cycles": act.Cycles, "volume_ul": act.VolumeUL}
	case model.ActionSetModuleTemp, model.ActionPauseForTemp, model.ActionDeactivateModule:
		rec.Detail = map[string]interface{}{"module_id": act.ModuleID, "target_c": act.TargetC}
	}
	if actErr != nil {
		rec.Error = actErr.Error()
	}
	if err := e.runLog.Append(rec); err != nil {
		log.Printf("error: execution log append failed: %v", err)
		e.state.LastError = fmt.Sprintf("log append: %v", err)
	}

	e.state.CurrentAction = idx + 1
	if actErr != nil && outcome == model.OutcomeFailed {
		e.state.LastError = actErr.Error()
	}
	e.saveState()

	e.bus.Publish(events.EventActionCompleted, map[string]interface{}{
		"action_index":  idx,
		"total_actions": e.state.TotalActions,
		"kind":          string(act.Kind),
		"outcome":       string(outcome),
		"duration_s":    dur.Seconds(),
		"reagent":       act.Reagent,
		"volume_ul":     act.VolumeUL,
	})
}

func (e *Executor) finish(final model.RunStatus) {
	e.gate.Finish()
	e.transition(final)
	e.state.Checkpoint = ""
	e.state.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	e.saveState()
	e.bus.Publish(events.EventRunFinished, map[string]interface{}{
		"run_id": e.state.RunID,
		"status": string(final),
	})
}

// transition applies a run-status change through the transition table. An
// invalid transition is a programming error; it is logged and the status
// forced so the artifact on disk never lies about the outcome.
func (e *Executor) transition(to model.RunStatus) {
	if e.state.Status == to {
		return
	}
	if err := model.ValidateRunTransition(e.state.Status, to); err != nil {
		log.Printf("error: %v (forcing)", err)
	}
	e.state.Status = to
}

func (e *Executor) saveState() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveState(e.state); err != nil {
		log.Printf("warn: run state save failed: %v", err)
	}
}

func (e *Executor) gantrySpeed(act model.Action) float64 {
	if act.SpeedMMS > 0 {
		return act.SpeedMMS
	}
	return e.cfg.Robot.GantrySpeedMMS
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
