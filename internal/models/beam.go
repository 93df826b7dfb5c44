// Package models holds the plan, beam and control-point types shared by the
// QA plan packages. They mirror the read-only views a planning system hands out.
package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// MLCPlanType is the MLC delivery mode reported by the planning system
type MLCPlanType int

const (
	MLCNotDefined MLCPlanType = iota
	MLCStatic
	MLCDoseDynamic
	MLCArcDynamic
	MLCVMAT
)

var mlcPlanTypeNames = map[MLCPlanType]string{
	MLCNotDefined:  "NotDefined",
	MLCStatic:      "Static",
	MLCDoseDynamic: "DoseDynamic",
	MLCArcDynamic:  "ArcDynamic",
	MLCVMAT:        "VMAT",
}

func (m MLCPlanType) String() string {
	if s, ok := mlcPlanTypeNames[m]; ok {
		return s
	}
	return "NotDefined"
}

// ParseMLCPlanType maps a name as written in scenario files to an MLCPlanType.
// Unknown names map to MLCNotDefined.
func ParseMLCPlanType(name string) MLCPlanType {
	for k, v := range mlcPlanTypeNames {
		if v == name {
			return k
		}
	}
	return MLCNotDefined
}

// GantryDirection is the rotation direction of an arc
type GantryDirection int

const (
	GantryNone GantryDirection = iota
	GantryClockwise
	GantryCounterClockwise
)

func (g GantryDirection) String() string {
	switch g {
	case GantryClockwise:
		return "Clockwise"
	case GantryCounterClockwise:
		return "CounterClockwise"
	default:
		return "None"
	}
}

// ParseGantryDirection accepts CW/CCW shorthands as well as the full names
func ParseGantryDirection(name string) GantryDirection {
	switch name {
	case "Clockwise", "CW":
		return GantryClockwise
	case "CounterClockwise", "CCW":
		return GantryCounterClockwise
	default:
		return GantryNone
	}
}

// JawPositions is the collimator jaw rectangle in mm, beam's-eye view
type JawPositions struct {
	X1 float64 `yaml:"x1"`
	Y1 float64 `yaml:"y1"`
	X2 float64 `yaml:"x2"`
	Y2 float64 `yaml:"y2"`
}

// ControlPoint is one point of a beam's delivery sequence
type ControlPoint struct {
	GantryAngle         float64      `yaml:"gantryAngle"`
	CollimatorAngle     float64      `yaml:"collimatorAngle"`
	PatientSupportAngle float64      `yaml:"couchAngle"`
	Jaws                JawPositions `yaml:"jaws"`

	// LeafPositions is indexed [bank][leaf], in mm
	LeafPositions [][]float64 `yaml:"leaves"`

	// MetersetWeight is the cumulative fraction of the beam meterset
	// delivered at this point. Non-decreasing within a beam, ending at 1.
	MetersetWeight float64 `yaml:"weight"`
}

// MetersetValue is a beam meterset with its unit (normally "MU")
type MetersetValue struct {
	Value float64 `yaml:"value"`
	Unit  string  `yaml:"unit"`
}

// CalculationLog is one category of the calculation log attached to a beam
type CalculationLog struct {
	Category     string   `yaml:"category"`
	MessageLines []string `yaml:"lines"`
}

// Beam is a treatment or setup field of a plan
type Beam struct {
	ID              string
	TreatmentUnitID string
	TechniqueID     string
	MLCPlanType     MLCPlanType
	CalculationLogs []CalculationLog
	ControlPoints   []ControlPoint

	Meterset      MetersetValue
	MetersetPerGy float64

	// EnergyModeDisplayName carries the energy and an optional fluence
	// suffix, e.g. "6X" or "10X-FFF"
	EnergyModeDisplayName string
	DoseRate              int
	GantryDirection       GantryDirection
	WeightFactor          float64

	// Isocenter is the beam isocenter in mm
	Isocenter r3.Vec
}

// IsActive reports whether the beam delivers dose. Setup fields carry zero
// MU per Gy and are skipped by every QA step.
func (b *Beam) IsActive() bool {
	return b.MetersetPerGy > 0
}

// FirstControlPoint returns the first control point of the beam, or false
// when the beam has none
func (b *Beam) FirstControlPoint() (ControlPoint, bool) {
	if len(b.ControlPoints) == 0 {
		return ControlPoint{}, false
	}
	return b.ControlPoints[0], true
}

// LastControlPoint returns the final control point of the beam
func (b *Beam) LastControlPoint() (ControlPoint, bool) {
	if len(b.ControlPoints) == 0 {
		return ControlPoint{}, false
	}
	return b.ControlPoints[len(b.ControlPoints)-1], true
}

// MetersetWeights returns the per-control-point cumulative weights
func (b *Beam) MetersetWeights() []float64 {
	weights := make([]float64, len(b.ControlPoints))
	for i, cp := range b.ControlPoints {
		weights[i] = cp.MetersetWeight
	}
	return weights
}

// CalculationLog returns the first log of the given category
func (b *Beam) CalculationLog(category string) (CalculationLog, bool) {
	for _, log := range b.CalculationLogs {
		if log.Category == category {
			return log, true
		}
	}
	return CalculationLog{}, false
}

// Image is the image a structure set is defined on
type Image struct {
	ID string

	// UserOrigin is the user origin of the image in mm
	UserOrigin r3.Vec
}

// StructureSet is a patient structure set and its image
type StructureSet struct {
	ID    string
	Image Image
}

// Plan is an external beam plan
type Plan struct {
	ID       string
	CourseID string
	Beams    []*Beam

	// StructureSetID names the structure set the plan is computed on
	StructureSetID string

	// VerifiedPlanID is set on verification plans to the source plan's ID
	VerifiedPlanID string

	NumberOfFractions      int
	DosePerFraction        float64
	TreatmentPercentage    float64
	PlanNormalizationValue float64
	PhotonCalculationModel string

	// DoseCalculated is set once dose has been computed; the plan accepts
	// no further beam edits afterwards
	DoseCalculated bool
}

// Course groups plans of one patient
type Course struct {
	ID    string
	Plans []*Plan
}

// HasPlan reports whether the course holds a plan with the given ID
func (c *Course) HasPlan(id string) bool {
	for _, p := range c.Plans {
		if p.ID == id {
			return true
		}
	}
	return false
}
