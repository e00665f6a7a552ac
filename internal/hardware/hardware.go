// Package hardware is the command boundary between the sequencer and the
// physical bench. The executor issues driver calls one at a time and treats
// every error as fatal for the run: retrying a pipetting command blind could
// double-dispense into a well, so there is no retry layer here or above.
package hardware

import (
	"context"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// Driver is the synchronous command interface to the robot. Calls block
// until the motion or liquid operation completes. Implementations must honor
// context cancellation between (not within) physical movements.
type Driver interface {
	// MoveTo travels to pos at speedMMS. A speed of 0 means the driver's
	// configured gantry default.
	MoveTo(ctx context.Context, pos model.Point, speedMMS float64) error

	PickUpTip(ctx context.Context) error
	DropTip(ctx context.Context) error

	Aspirate(ctx context.Context, volumeUL float64, pos model.Point, rateULS float64) error
	Dispense(ctx context.Context, volumeUL float64, pos model.Point, rateULS float64) error

	// BlowOut expels whatever remains in the tip at pos.
	BlowOut(ctx context.Context, pos model.Point, rateULS float64) error

	SetModuleTemperature(ctx context.Context, moduleID string, targetC float64) error
	ReadModuleTemperature(ctx context.Context, moduleID string) (model.ModuleReading, error)
	DeactivateModule(ctx context.Context, moduleID string) error
}
