package planning

import (
	"errors"
	"fmt"

	"createqaplan/internal/models"
	"createqaplan/pkg/technique"
)

// ErrNotFound is returned when a host lookup finds nothing
var ErrNotFound = errors.New("not found")

// Patient is an in-memory patient record
type Patient struct {
	ID            string
	Name          string
	Courses       []*models.Course
	StructureSets []*models.StructureSet
}

// MemoryHost is a Host backed by plain Go values. Every mutating call is
// journalled so the order of external writes can be inspected.
type MemoryHost struct {
	// Patient is the open patient
	Patient *Patient

	// Phantoms holds the QA phantom patients by ID
	Phantoms map[string]*Patient

	journal []string
	beamSeq int
}

// NewMemoryHost returns a host with the given open patient and phantoms
func NewMemoryHost(patient *Patient, phantoms ...*Patient) *MemoryHost {
	h := &MemoryHost{Patient: patient, Phantoms: make(map[string]*Patient)}
	for _, p := range phantoms {
		h.Phantoms[p.ID] = p
	}
	return h
}

// Journal returns the mutating calls made so far, in order
func (h *MemoryHost) Journal() []string {
	out := make([]string, len(h.journal))
	copy(out, h.journal)
	return out
}

func (h *MemoryHost) record(format string, args ...interface{}) {
	h.journal = append(h.journal, fmt.Sprintf(format, args...))
}

// ListBeams returns the plan's beams in plan order
func (h *MemoryHost) ListBeams(plan *models.Plan) []*models.Beam {
	return plan.Beams
}

// FindCourse looks up a course of the open patient
func (h *MemoryHost) FindCourse(id string) (*models.Course, bool) {
	for _, c := range h.Patient.Courses {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// CreateCourse adds a course to the open patient
func (h *MemoryHost) CreateCourse(id string) (*models.Course, error) {
	if _, exists := h.FindCourse(id); exists {
		return nil, fmt.Errorf("course %q already exists", id)
	}
	c := &models.Course{ID: id}
	h.Patient.Courses = append(h.Patient.Courses, c)
	h.record("CreateCourse %s", id)
	return c, nil
}

// FindStructureSet looks up a structure set of the open patient
func (h *MemoryHost) FindStructureSet(id string) (*models.StructureSet, bool) {
	for _, ss := range h.Patient.StructureSets {
		if ss.ID == id {
			return ss, true
		}
	}
	return nil, false
}

// CopyPhantomImageAndStructures copies the structure set defined on imageID
// of a phantom patient into the open patient
func (h *MemoryHost) CopyPhantomImageAndStructures(sourcePatientID, imageID string) (*models.StructureSet, error) {
	phantom, ok := h.Phantoms[sourcePatientID]
	if !ok {
		return nil, fmt.Errorf("phantom patient %q: %w", sourcePatientID, ErrNotFound)
	}
	for _, ss := range phantom.StructureSets {
		if ss.Image.ID == imageID {
			cp := *ss
			h.Patient.StructureSets = append(h.Patient.StructureSets, &cp)
			h.record("CopyPhantomImageAndStructures %s/%s", sourcePatientID, imageID)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("image %q of phantom patient %q: %w", imageID, sourcePatientID, ErrNotFound)
}

// CreateVerificationPlan adds an empty verification plan for source to course
func (h *MemoryHost) CreateVerificationPlan(ss *models.StructureSet, course *models.Course, source *models.Plan, id string) (*models.Plan, error) {
	if ss == nil || course == nil || source == nil {
		return nil, errors.New("verification plan needs a structure set, course and source plan")
	}
	if course.HasPlan(id) {
		return nil, fmt.Errorf("plan %q already exists in course %q", id, course.ID)
	}
	p := &models.Plan{
		ID:             id,
		CourseID:       course.ID,
		StructureSetID: ss.ID,
		VerifiedPlanID: source.ID,
	}
	course.Plans = append(course.Plans, p)
	h.record("CreateVerificationPlan %s/%s", course.ID, id)
	return p, nil
}

// SetPrescription sets the plan prescription
func (h *MemoryHost) SetPrescription(plan *models.Plan, fractions int, dosePerFraction, treatmentPercentage float64) error {
	if fractions < 1 {
		return fmt.Errorf("invalid number of fractions %d", fractions)
	}
	plan.NumberOfFractions = fractions
	plan.DosePerFraction = dosePerFraction
	plan.TreatmentPercentage = treatmentPercentage
	h.record("SetPrescription %s", plan.ID)
	return nil
}

// CreateBeam appends a beam built from req. Control points are laid out the
// way the planning system does for each construction call.
func (h *MemoryHost) CreateBeam(plan *models.Plan, req BeamRequest) (*models.Beam, error) {
	if plan.DoseCalculated {
		return nil, fmt.Errorf("plan %q is already calculated", plan.ID)
	}

	var weights []float64
	switch req.Technique {
	case technique.StaticMLC:
		weights = []float64{0, 1}
	case technique.StaticSegmentedWindow, technique.StaticSlidingWindow, technique.VMAT:
		weights = req.MetersetWeights
	case technique.ConformalArc:
		weights = linearWeights(req.ControlPointCount)
	default:
		return nil, fmt.Errorf("cannot construct a %s beam", req.Technique)
	}
	if len(weights) < 2 {
		return nil, fmt.Errorf("a %s beam needs at least 2 control points, got %d", req.Technique, len(weights))
	}

	cps := make([]models.ControlPoint, len(weights))
	for i, w := range weights {
		gantry := req.GantryAngle
		if req.Technique.IsArc() {
			gantry = arcAngle(req.GantryAngle, req.GantryStop, req.Direction, float64(i)/float64(len(weights)-1))
		}
		cps[i] = models.ControlPoint{
			GantryAngle:         gantry,
			CollimatorAngle:     req.CollimatorAngle,
			PatientSupportAngle: req.CouchAngle,
			Jaws:                req.Jaws,
			LeafPositions:       copyLeaves(req.Leaves),
			MetersetWeight:      w,
		}
	}

	h.beamSeq++
	bm := &models.Beam{
		ID:                    fmt.Sprintf("Field %d", h.beamSeq),
		TreatmentUnitID:       req.Machine.TreatmentUnitID,
		TechniqueID:           req.Machine.TechniqueID,
		ControlPoints:         cps,
		EnergyModeDisplayName: energyDisplayName(req.Machine),
		DoseRate:              req.Machine.DoseRate,
		GantryDirection:       req.Direction,
		WeightFactor:          1,
		Isocenter:             req.Isocenter,
	}
	plan.Beams = append(plan.Beams, bm)
	h.record("CreateBeam %s %s", plan.ID, req.Technique)
	return bm, nil
}

// SetBeamID renames a beam
func (h *MemoryHost) SetBeamID(beam *models.Beam, id string) error {
	if id == "" {
		return errors.New("beam ID must not be empty")
	}
	beam.ID = id
	h.record("SetBeamID %s", id)
	return nil
}

// ApplyControlPoints overwrites leaf and jaw positions index for index
func (h *MemoryHost) ApplyControlPoints(beam *models.Beam, edits []ControlPointEdit) error {
	if len(edits) != len(beam.ControlPoints) {
		return fmt.Errorf("beam %q has %d control points, got %d edits", beam.ID, len(beam.ControlPoints), len(edits))
	}
	for i, e := range edits {
		beam.ControlPoints[i].LeafPositions = copyLeaves(e.LeafPositions)
		beam.ControlPoints[i].Jaws = e.Jaws
	}
	h.record("ApplyControlPoints %s", beam.ID)
	return nil
}

// SetWeightFactor sets the beam weight
func (h *MemoryHost) SetWeightFactor(beam *models.Beam, value float64) error {
	beam.WeightFactor = value
	h.record("SetWeightFactor %s", beam.ID)
	return nil
}

// SetNormalization sets the plan normalization value
func (h *MemoryHost) SetNormalization(plan *models.Plan, value float64) error {
	plan.PlanNormalizationValue = value
	h.record("SetNormalization %s", plan.ID)
	return nil
}

// SetCalculationModel sets the photon volume dose model
func (h *MemoryHost) SetCalculationModel(plan *models.Plan, model string) error {
	plan.PhotonCalculationModel = model
	h.record("SetCalculationModel %s", plan.ID)
	return nil
}

// ComputeDose presets each beam's meterset from mu and marks the plan
// calculated. A plan is calculated once.
func (h *MemoryHost) ComputeDose(plan *models.Plan, mu *MUMap) error {
	if plan.DoseCalculated {
		return fmt.Errorf("plan %q is already calculated", plan.ID)
	}
	if mu.Len() != len(plan.Beams) {
		return fmt.Errorf("plan %q has %d beams but %d meterset entries", plan.ID, len(plan.Beams), mu.Len())
	}
	for _, bm := range plan.Beams {
		v, ok := mu.Get(bm.ID)
		if !ok {
			return fmt.Errorf("no meterset for beam %q", bm.ID)
		}
		bm.Meterset = v
	}
	plan.DoseCalculated = true
	h.record("ComputeDose %s", plan.ID)
	return nil
}

func linearWeights(n int) []float64 {
	if n < 2 {
		return nil
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = float64(i) / float64(n-1)
	}
	w[n-1] = 1
	return w
}

// arcAngle interpolates a gantry angle at fraction f along an arc
func arcAngle(start, stop float64, dir models.GantryDirection, f float64) float64 {
	span := stop - start
	switch dir {
	case models.GantryClockwise:
		for span < 0 {
			span += 360
		}
	case models.GantryCounterClockwise:
		for span > 0 {
			span -= 360
		}
	}
	a := start + f*span
	for a < 0 {
		a += 360
	}
	for a >= 360 {
		a -= 360
	}
	return a
}

func energyDisplayName(m MachineParameters) string {
	if m.PrimaryFluenceMode == "" {
		return m.Energy
	}
	return m.Energy + "-" + m.PrimaryFluenceMode
}

func copyLeaves(leaves [][]float64) [][]float64 {
	if leaves == nil {
		return nil
	}
	out := make([][]float64, len(leaves))
	for i, bank := range leaves {
		out[i] = append([]float64(nil), bank...)
	}
	return out
}
