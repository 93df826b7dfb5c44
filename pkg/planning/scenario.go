package planning

import (
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"createqaplan/internal/models"
)

// Scenario is an open patient with a selected course and plan, as loaded
// from a YAML scenario file
type Scenario struct {
	Host   *MemoryHost
	Course *models.Course
	Plan   *models.Plan
}

type scenarioFile struct {
	Patient  patientDoc   `yaml:"patient"`
	Phantoms []patientDoc `yaml:"phantoms"`
	Current  struct {
		Course string `yaml:"course"`
		Plan   string `yaml:"plan"`
	} `yaml:"current"`
}

type patientDoc struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name,omitempty"`
	Courses       []courseDoc       `yaml:"courses,omitempty"`
	StructureSets []structureSetDoc `yaml:"structureSets,omitempty"`
}

type courseDoc struct {
	ID    string    `yaml:"id"`
	Plans []PlanDoc `yaml:"plans,omitempty"`
}

type structureSetDoc struct {
	ID     string    `yaml:"id"`
	Image  string    `yaml:"image"`
	Origin []float64 `yaml:"origin,flow,omitempty"`
}

// PlanDoc is the YAML form of a plan, used for scenario input and result output
type PlanDoc struct {
	ID                  string    `yaml:"id"`
	StructureSet        string    `yaml:"structureSet,omitempty"`
	VerifiedPlan        string    `yaml:"verifiedPlan,omitempty"`
	Fractions           int       `yaml:"fractions,omitempty"`
	DosePerFraction     float64   `yaml:"dosePerFraction"`
	TreatmentPercentage float64   `yaml:"treatmentPercentage"`
	Normalization       float64   `yaml:"normalization"`
	CalculationModel    string    `yaml:"calculationModel,omitempty"`
	DoseCalculated      bool      `yaml:"doseCalculated,omitempty"`
	Beams               []BeamDoc `yaml:"beams"`
}

// BeamDoc is the YAML form of a beam
type BeamDoc struct {
	ID            string                  `yaml:"id"`
	Machine       string                  `yaml:"machine"`
	Technique     string                  `yaml:"technique"`
	MLC           string                  `yaml:"mlc"`
	Energy        string                  `yaml:"energy"`
	DoseRate      int                     `yaml:"doseRate"`
	MU            float64                 `yaml:"mu"`
	MUUnit        string                  `yaml:"muUnit,omitempty"`
	MUPerGy       float64                 `yaml:"muPerGy"`
	Weight        float64                 `yaml:"weight"`
	Direction     string                  `yaml:"direction,omitempty"`
	Isocenter     []float64               `yaml:"isocenter,flow,omitempty"`
	Logs          []models.CalculationLog `yaml:"logs,omitempty"`
	ControlPoints []models.ControlPoint   `yaml:"controlPoints"`
}

func vec(v []float64) (r3.Vec, error) {
	switch len(v) {
	case 0:
		return r3.Vec{}, nil
	case 3:
		return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
	default:
		return r3.Vec{}, fmt.Errorf("expected 3 coordinates, got %d", len(v))
	}
}

func (d structureSetDoc) model() (*models.StructureSet, error) {
	origin, err := vec(d.Origin)
	if err != nil {
		return nil, fmt.Errorf("structure set %q origin: %w", d.ID, err)
	}
	return &models.StructureSet{ID: d.ID, Image: models.Image{ID: d.Image, UserOrigin: origin}}, nil
}

func (d BeamDoc) model() (*models.Beam, error) {
	iso, err := vec(d.Isocenter)
	if err != nil {
		return nil, fmt.Errorf("beam %q isocenter: %w", d.ID, err)
	}
	unit := d.MUUnit
	if unit == "" {
		unit = "MU"
	}
	return &models.Beam{
		ID:                    d.ID,
		TreatmentUnitID:       d.Machine,
		TechniqueID:           d.Technique,
		MLCPlanType:           models.ParseMLCPlanType(d.MLC),
		CalculationLogs:       d.Logs,
		ControlPoints:         d.ControlPoints,
		Meterset:              models.MetersetValue{Value: d.MU, Unit: unit},
		MetersetPerGy:         d.MUPerGy,
		EnergyModeDisplayName: d.Energy,
		DoseRate:              d.DoseRate,
		GantryDirection:       models.ParseGantryDirection(d.Direction),
		WeightFactor:          d.Weight,
		Isocenter:             iso,
	}, nil
}

func (d PlanDoc) model(courseID string) (*models.Plan, error) {
	p := &models.Plan{
		ID:                     d.ID,
		CourseID:               courseID,
		StructureSetID:         d.StructureSet,
		VerifiedPlanID:         d.VerifiedPlan,
		NumberOfFractions:      d.Fractions,
		DosePerFraction:        d.DosePerFraction,
		TreatmentPercentage:    d.TreatmentPercentage,
		PlanNormalizationValue: d.Normalization,
		PhotonCalculationModel: d.CalculationModel,
		DoseCalculated:         d.DoseCalculated,
	}
	for _, bd := range d.Beams {
		bm, err := bd.model()
		if err != nil {
			return nil, err
		}
		p.Beams = append(p.Beams, bm)
	}
	return p, nil
}

func (d patientDoc) model() (*Patient, error) {
	pt := &Patient{ID: d.ID, Name: d.Name}
	for _, cd := range d.Courses {
		c := &models.Course{ID: cd.ID}
		for _, pd := range cd.Plans {
			p, err := pd.model(cd.ID)
			if err != nil {
				return nil, fmt.Errorf("course %q: %w", cd.ID, err)
			}
			c.Plans = append(c.Plans, p)
		}
		pt.Courses = append(pt.Courses, c)
	}
	for _, sd := range d.StructureSets {
		ss, err := sd.model()
		if err != nil {
			return nil, err
		}
		pt.StructureSets = append(pt.StructureSets, ss)
	}
	return pt, nil
}

// ReadScenario decodes a scenario and selects its current course and plan
func ReadScenario(r io.Reader) (*Scenario, error) {
	var doc scenarioFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error parsing scenario: %w", err)
	}

	patient, err := doc.Patient.model()
	if err != nil {
		return nil, fmt.Errorf("patient %q: %w", doc.Patient.ID, err)
	}
	var phantoms []*Patient
	for _, pd := range doc.Phantoms {
		ph, err := pd.model()
		if err != nil {
			return nil, fmt.Errorf("phantom %q: %w", pd.ID, err)
		}
		phantoms = append(phantoms, ph)
	}

	host := NewMemoryHost(patient, phantoms...)
	course, ok := host.FindCourse(doc.Current.Course)
	if !ok {
		return nil, fmt.Errorf("current course %q: %w", doc.Current.Course, ErrNotFound)
	}
	var plan *models.Plan
	for _, p := range course.Plans {
		if p.ID == doc.Current.Plan {
			plan = p
			break
		}
	}
	if plan == nil {
		return nil, fmt.Errorf("current plan %q in course %q: %w", doc.Current.Plan, course.ID, ErrNotFound)
	}

	return &Scenario{Host: host, Course: course, Plan: plan}, nil
}

// LoadScenario reads a scenario file from disk
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading scenario file: %w", err)
	}
	defer f.Close()
	return ReadScenario(f)
}

// DocFromPlan converts a plan to its YAML form
func DocFromPlan(p *models.Plan) PlanDoc {
	d := PlanDoc{
		ID:                  p.ID,
		StructureSet:        p.StructureSetID,
		VerifiedPlan:        p.VerifiedPlanID,
		Fractions:           p.NumberOfFractions,
		DosePerFraction:     p.DosePerFraction,
		TreatmentPercentage: p.TreatmentPercentage,
		Normalization:       p.PlanNormalizationValue,
		CalculationModel:    p.PhotonCalculationModel,
		DoseCalculated:      p.DoseCalculated,
	}
	for _, bm := range p.Beams {
		d.Beams = append(d.Beams, BeamDoc{
			ID:            bm.ID,
			Machine:       bm.TreatmentUnitID,
			Technique:     bm.TechniqueID,
			MLC:           bm.MLCPlanType.String(),
			Energy:        bm.EnergyModeDisplayName,
			DoseRate:      bm.DoseRate,
			MU:            bm.Meterset.Value,
			MUUnit:        bm.Meterset.Unit,
			MUPerGy:       bm.MetersetPerGy,
			Weight:        bm.WeightFactor,
			Direction:     bm.GantryDirection.String(),
			Isocenter:     []float64{bm.Isocenter.X, bm.Isocenter.Y, bm.Isocenter.Z},
			Logs:          bm.CalculationLogs,
			ControlPoints: bm.ControlPoints,
		})
	}
	return d
}

// WritePlan encodes a plan as YAML
func WritePlan(w io.Writer, p *models.Plan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(DocFromPlan(p)); err != nil {
		return fmt.Errorf("error encoding plan: %w", err)
	}
	return enc.Close()
}
