package model

import "fmt"

// Point is a deck-space coordinate or offset in millimeters. Offsets add
// component-wise; nothing in the model clamps them.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

// IsZero reports whether p is the origin. Zero-valued adjustments mean
// "no manual correction" at call sites.
func (p Point) IsZero() bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

// LabwareLibrary is the labware definition file (.gelpilot/labware.yaml).
type LabwareLibrary struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	Labware       []LabwareDef `yaml:"labware"`
}

// LabwareDef describes one piece of labware on the deck. Origin is the deck
// position of well A1's center; the grid extends right (columns, +X) and
// down (rows, -Y per ANSI plate orientation, stored as positive spacing and
// applied negatively during resolution).
type LabwareDef struct {
	ID             string  `yaml:"id"`
	DisplayName    string  `yaml:"display_name"`
	Rows           int     `yaml:"rows"`
	Columns        int     `yaml:"columns"`
	WellCapacityUL float64 `yaml:"well_capacity_ul"`
	WellDepthMM    float64 `yaml:"well_depth_mm"`
	WellSpacingMM  float64 `yaml:"well_spacing_mm"`
	Origin         Point   `yaml:"origin"`
	Offset         Point   `yaml:"offset,omitempty"` // library-level nudge, pre-calibration
}

// WellCount returns the number of addressable wells.
func (d LabwareDef) WellCount() int {
	return d.Rows * d.Columns
}

// WellRef names a source or destination well in protocol files.
type WellRef struct {
	Labware string `yaml:"labware" json:"labware"`
	Well    string `yaml:"well" json:"well"` // "A1" style
}

func (w WellRef) String() string {
	return fmt.Sprintf("%s:%s", w.Labware, w.Well)
}

// WellTarget is a fully resolved physical target: which well, and where its
// addressed point sits in deck space after all offsets.
type WellTarget struct {
	LabwareID string `yaml:"labware_id" json:"labware_id"`
	WellIndex int    `yaml:"well_index" json:"well_index"`
	Position  Point  `yaml:"position" json:"position"`
}

func (t WellTarget) String() string {
	return fmt.Sprintf("%s[%d]%s", t.LabwareID, t.WellIndex, t.Position)
}
