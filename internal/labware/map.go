// Package labware resolves symbolic well references to physical deck
// coordinates. A Map is built once per run from the labware library and the
// bench calibration table, then read concurrently without locks.
//
// Well ordering is row-major A1 style: A1, A2, ... A12, B1, ... so index =
// row*columns + column. Eight-channel operations address a whole column by
// its row-A well.
package labware

import (
	"fmt"
	"strconv"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// Map is the immutable view of every addressable well on the deck.
type Map struct {
	defs        map[string]model.LabwareDef
	calibration map[string]model.Point
}

// NewMap indexes the library and attaches per-labware calibration offsets.
// Calibration entries naming labware absent from the library are rejected:
// a typo there would silently drop a physical correction.
func NewMap(lib model.LabwareLibrary, calibration map[string]model.Point) (*Map, error) {
	ve := &model.ValidationErrors{}
	defs := make(map[string]model.LabwareDef, len(lib.Labware))
	for i, def := range lib.Labware {
		path := fmt.Sprintf("labware[%d]", i)
		if def.ID == "" {
			ve.Add(path+".id", "required")
			continue
		}
		if _, dup := defs[def.ID]; dup {
			ve.Add(path+".id", fmt.Sprintf("duplicate labware id %q", def.ID))
			continue
		}
		if def.Rows < 1 {
			ve.Add(path+".rows", "must be at least 1")
		}
		if def.Columns < 1 {
			ve.Add(path+".columns", "must be at least 1")
		}
		if def.Rows > 26 {
			ve.Add(path+".rows", "more than 26 rows cannot be named A-Z")
		}
		if def.WellCapacityUL <= 0 {
			ve.Add(path+".well_capacity_ul", "must be positive")
		}
		if def.WellDepthMM <= 0 {
			ve.Add(path+".well_depth_mm", "must be positive")
		}
		if def.WellSpacingMM <= 0 && def.WellCount() > 1 {
			ve.Add(path+".well_spacing_mm", "must be positive for multi-well labware")
		}
		defs[def.ID] = def
	}
	for id := range calibration {
		if _, ok := defs[id]; !ok {
			ve.Add("calibration."+id, "names labware not in the library")
		}
	}
	if ve.HasErrors() {
		return nil, ve
	}

	cal := make(map[string]model.Point, len(calibration))
	for id, off := range calibration {
		cal[id] = off
	}
	return &Map{defs: defs, calibration: cal}, nil
}

// Definition returns the library entry for labwareID.
func (m *Map) Definition(labwareID string) (model.LabwareDef, error) {
	def, ok := m.defs[labwareID]
	if !ok {
		return model.LabwareDef{}, &model.UnknownLabwareError{LabwareID: labwareID}
	}
	return def, nil
}

// Capacity returns the per-well capacity in microliters. The mixing engine
// uses it for fill-fraction checks before any liquid moves.
func (m *Map) Capacity(labwareID string) (float64, error) {
	def, err := m.Definition(labwareID)
	if err != nil {
		return 0, err
	}
	return def.WellCapacityUL, nil
}

// Resolve maps (labware, well index) to a physical target. The returned
// position is Origin + grid offset + library offset + bench calibration +
// adjust, strictly additive with no clamping; adjust is the per-call manual
// correction and is usually the zero Point.
//
// Grid rows extend toward the operator (negative Y), columns to the right
// (positive X), matching the deck's plate orientation.
func (m *Map) Resolve(labwareID string, wellIndex int, adjust model.Point) (model.WellTarget, error) {
	def, ok := m.defs[labwareID]
	if !ok {
		return model.WellTarget{}, &model.UnknownLabwareError{LabwareID: labwareID}
	}
	if wellIndex < 0 || wellIndex >= def.WellCount() {
		return model.WellTarget{}, &model.WellRangeError{
			LabwareID: labwareID,
			WellIndex: wellIndex,
			WellCount: def.WellCount(),
		}
	}

	row := wellIndex / def.Columns
	col := wellIndex % def.Columns
	pos := def.Origin.
		Add(model.Point{X: float64(col) * def.WellSpacingMM, Y: -float64(row) * def.WellSpacingMM}).
		Add(def.Offset).
		Add(m.calibration[labwareID]).
		Add(adjust)

	return model.WellTarget{LabwareID: labwareID, WellIndex: wellIndex, Position: pos}, nil
}

// ResolveRef resolves a protocol-file well reference such as
// {Labware: "plate_96well", Well: "B3"}.
func (m *Map) ResolveRef(ref model.WellRef, adjust model.Point) (model.WellTarget, error) {
	idx, err := m.WellIndex(ref.Labware, ref.Well)
	if err != nil {
		return model.WellTarget{}, err
	}
	return m.Resolve(ref.Labware, idx, adjust)
}

// WellIndex converts an A1-style name to a row-major index within labwareID.
func (m *Map) WellIndex(labwareID, name string) (int, error) {
	def, ok := m.defs[labwareID]
	if !ok {
		return 0, &model.UnknownLabwareError{LabwareID: labwareID}
	}
	row, col, err := parseWellName(name)
	if err != nil {
		return 0, fmt.Errorf("labware %s: %w", labwareID, err)
	}
	if row >= def.Rows || col >= def.Columns {
		return 0, &model.WellRangeError{
			LabwareID: labwareID,
			WellIndex: row*def.Columns + col,
			WellCount: def.WellCount(),
		}
	}
	return row*def.Columns + col, nil
}

// WellName converts a row-major index back to its A1-style name, for logs
// and `gelpilot plan` output.
func (m *Map) WellName(labwareID string, index int) (string, error) {
	def, ok := m.defs[labwareID]
	if !ok {
		return "", &model.UnknownLabwareError{LabwareID: labwareID}
	}
	if index < 0 || index >= def.WellCount() {
		return "", &model.WellRangeError{LabwareID: labwareID, WellIndex: index, WellCount: def.WellCount()}
	}
	row := index / def.Columns
	col := index % def.Columns
	return fmt.Sprintf("%c%d", 'A'+rune(row), col+1), nil
}

// parseWellName splits "B3" into zero-based (row, column). Row letters run
// A-Z; columns are 1-based in the name.
func parseWellName(name string) (row, col int, err error) {
	if len(name) < 2 {
		return 0, 0, fmt.Errorf("malformed well name %q", name)
	}
	r := name[0]
	if r < 'A' || r > 'Z' {
		return 0, 0, fmt.Errorf("malformed well name %q: row must be A-Z", name)
	}
	n, convErr := strconv.Atoi(name[1:])
	if convErr != nil || n < 1 {
		return 0, 0, fmt.Errorf("malformed well name %q: column must be a positive number", name)
	}
	return int(r - 'A'), n - 1, nil
}
