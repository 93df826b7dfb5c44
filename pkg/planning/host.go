// Package planning defines the narrow interface through which the QA plan
// packages talk to a treatment planning system, together with the MU map
// handed to dose calculation and an in-memory host used by the CLI and tests.
package planning

import (
	"gonum.org/v1/gonum/spatial/r3"

	"createqaplan/internal/models"
	"createqaplan/pkg/technique"
)

// MachineParameters selects the treatment unit and beam quality for a new beam
type MachineParameters struct {
	TreatmentUnitID string
	Energy          string
	DoseRate        int
	TechniqueID     string

	// PrimaryFluenceMode is empty for the default flattened mode, or a
	// code such as "FFF" or "SRS"
	PrimaryFluenceMode string
}

// BeamRequest carries everything a host needs to construct a verification
// beam. Which fields a host honours depends on Technique:
//
//   - StaticMLC uses Leaves and Jaws as the initial aperture
//   - StaticSegmentedWindow and StaticSlidingWindow use MetersetWeights
//   - ConformalArc and VMAT use ControlPointCount, GantryAngle, GantryStop
//     and Direction; VMAT also uses MetersetWeights
type BeamRequest struct {
	Technique technique.Technique
	Machine   MachineParameters

	CollimatorAngle float64
	GantryAngle     float64
	GantryStop      float64
	CouchAngle      float64
	Direction       models.GantryDirection
	Isocenter       r3.Vec

	MetersetWeights   []float64
	ControlPointCount int

	Leaves [][]float64
	Jaws   models.JawPositions
}

// ControlPointEdit overwrites the aperture of one control point
type ControlPointEdit struct {
	LeafPositions [][]float64
	Jaws          models.JawPositions
}

// Host is the planning system as seen by the QA plan packages. All reads
// are of the open patient; all writes target the verification course and
// plan only.
type Host interface {
	// ListBeams returns the beams of a plan in plan order
	ListBeams(plan *models.Plan) []*models.Beam

	FindCourse(id string) (*models.Course, bool)
	CreateCourse(id string) (*models.Course, error)

	FindStructureSet(id string) (*models.StructureSet, bool)
	CopyPhantomImageAndStructures(sourcePatientID, imageID string) (*models.StructureSet, error)

	CreateVerificationPlan(ss *models.StructureSet, course *models.Course, source *models.Plan, id string) (*models.Plan, error)
	SetPrescription(plan *models.Plan, fractions int, dosePerFraction, treatmentPercentage float64) error

	CreateBeam(plan *models.Plan, req BeamRequest) (*models.Beam, error)
	SetBeamID(beam *models.Beam, id string) error
	ApplyControlPoints(beam *models.Beam, edits []ControlPointEdit) error
	SetWeightFactor(beam *models.Beam, value float64) error

	SetNormalization(plan *models.Plan, value float64) error
	SetCalculationModel(plan *models.Plan, model string) error
	ComputeDose(plan *models.Plan, mu *MUMap) error
}
