package model

import "fmt"

// RatioError reports a formulation whose component ratios exceed a closed
// 100% system. Recoverable: the operator edits the protocol.
type RatioError struct {
	SumPct float64
}

func (e *RatioError) Error() string {
	return fmt.Sprintf("component ratios sum to %.2f%%, exceeding 100%%", e.SumPct)
}

// VolumeError reports a computed dispense below the pipette's floor. The
// formulation is not physically realizable at this batch volume.
type VolumeError struct {
	Reagent  string
	VolumeUL float64
	MinUL    float64
}

func (e *VolumeError) Error() string {
	return fmt.Sprintf("%s: computed volume %.2f uL is below the %.2f uL dispense minimum", e.Reagent, e.VolumeUL, e.MinUL)
}

// UnknownLabwareError reports a labware ID absent from the library.
type UnknownLabwareError struct {
	LabwareID string
}

func (e *UnknownLabwareError) Error() string {
	return fmt.Sprintf("unknown labware %q", e.LabwareID)
}

// WellRangeError reports a well index outside a labware's grid.
type WellRangeError struct {
	LabwareID string
	WellIndex int
	WellCount int
}

func (e *WellRangeError) Error() string {
	return fmt.Sprintf("well index %d out of range for %s (0-%d)", e.WellIndex, e.LabwareID, e.WellCount-1)
}

// ModuleFaultError reports a temperature module hardware fault. Fatal and
// non-retryable: the run halts and the error carries the module context up
// to the execution log.
type ModuleFaultError struct {
	ModuleID string
	Reason   string
}

func (e *ModuleFaultError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("module %s reported a hardware fault", e.ModuleID)
	}
	return fmt.Sprintf("module %s reported a hardware fault: %s", e.ModuleID, e.Reason)
}

// AwaitTimeoutError reports a temperature gate that did not stabilize in
// time. The sequencer applies the bench timeout policy; this error is what
// the abort policy wraps into the log.
type AwaitTimeoutError struct {
	ModuleID string
	TargetC  float64
	Timeout  string
}

func (e *AwaitTimeoutError) Error() string {
	return fmt.Sprintf("module %s did not stabilize at %.1f C within %s", e.ModuleID, e.TargetC, e.Timeout)
}

// OperatorAbortError marks a clean operator-initiated abort. It is never
// wrapped into FAILED outcomes; the sequencer maps it to OPERATOR_ABORTED.
type OperatorAbortError struct {
	Checkpoint string
}

func (e *OperatorAbortError) Error() string {
	if e.Checkpoint == "" {
		return "run aborted by operator"
	}
	return fmt.Sprintf("run aborted by operator at checkpoint %q", e.Checkpoint)
}
