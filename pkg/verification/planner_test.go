package verification

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"createqaplan/internal/models"
	"createqaplan/pkg/config"
	"createqaplan/pkg/metrics"
	"createqaplan/pkg/planning"
	"createqaplan/pkg/reconstruction"
)

const settingsText = "Machine:TrueBeam1, Phantom Patient ID:QA_PHANTOM, Phantom Image ID:ArcCHECK, " +
	"Phantom Structure ID:ArcCHECK_SS, Phantom Length(cm): 10\n"

func staticBeam(id string, y1, couch, mu float64) *models.Beam {
	cp := models.ControlPoint{
		PatientSupportAngle: couch,
		Jaws:                models.JawPositions{X1: -50, Y1: y1, X2: 50, Y2: 50},
		LeafPositions:       [][]float64{{-10, -10}, {10, 10}},
	}
	last := cp
	last.MetersetWeight = 1
	return &models.Beam{
		ID:                    id,
		TreatmentUnitID:       "TrueBeam1",
		TechniqueID:           "STATIC",
		MLCPlanType:           models.MLCStatic,
		ControlPoints:         []models.ControlPoint{cp, last},
		Meterset:              models.MetersetValue{Value: mu, Unit: "MU"},
		MetersetPerGy:         mu / 2,
		EnergyModeDisplayName: "6X",
		DoseRate:              600,
		WeightFactor:          1,
	}
}

type fixture struct {
	host     *planning.MemoryHost
	course   *models.Course
	plan     *models.Plan
	settings config.Settings
}

func newFixture(t *testing.T, beams ...*models.Beam) *fixture {
	t.Helper()
	plan := &models.Plan{
		ID:                     "Prostate",
		CourseID:               "C1 Prostate",
		Beams:                  beams,
		DosePerFraction:        2,
		TreatmentPercentage:    1,
		PlanNormalizationValue: 100,
		PhotonCalculationModel: "AAA_16.1",
	}
	course := &models.Course{ID: "C1 Prostate", Plans: []*models.Plan{plan}}
	patient := &planning.Patient{ID: "PT-1", Courses: []*models.Course{course}}
	phantom := &planning.Patient{
		ID: "QA_PHANTOM",
		StructureSets: []*models.StructureSet{
			{ID: "ArcCHECK_SS", Image: models.Image{ID: "ArcCHECK"}},
		},
	}
	settings, err := config.ParseSettings(strings.NewReader(settingsText))
	require.NoError(t, err)
	return &fixture{
		host:     planning.NewMemoryHost(patient, phantom),
		course:   course,
		plan:     plan,
		settings: settings,
	}
}

func (f *fixture) request() Request {
	return Request{PatientID: "PT-1", Course: f.course, Plan: f.plan, Settings: f.settings}
}

func TestDefaultCourseID(t *testing.T) {
	tests := []struct {
		course string
		want   string
	}{
		{"C2 Prostate", "C2: QA"},
		{"c 3", "c 3: QA"},
		{"Prostate", "QA"},
		{"C123456789", "QA"},
		{"Head C12", "C12: QA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultCourseID(tt.course, ": QA", "QA"), tt.course)
	}
}

func TestFindMachine(t *testing.T) {
	a := staticBeam("A", -50, 0, 100)
	b := staticBeam("B", -50, 0, 0)

	machine, err := FindMachine([]*models.Beam{a, b})
	require.NoError(t, err)
	assert.Equal(t, "TrueBeam1", machine)

	b.TreatmentUnitID = "Halcyon"
	_, err = FindMachine([]*models.Beam{a, b})
	assert.True(t, errors.Is(err, ErrAmbiguousMachine))

	_, err = FindMachine(nil)
	assert.True(t, errors.Is(err, ErrMissingQASettings))
}

func TestRunShiftsIsocenter(t *testing.T) {
	f := newFixture(t, staticBeam("F1", -110, 0, 120), staticBeam("Setup", -150, 0, 0))
	var lines []string
	m := metrics.NewMetrics()
	p := NewPlanner(f.host, Options{
		Messenger: func(msg string) { lines = append(lines, msg) },
		Metrics:   m,
	})

	res, err := p.Run(f.request())
	require.NoError(t, err)

	assert.Equal(t, "C1: QA", res.CourseID)
	assert.Equal(t, 10.0, res.Shift.Offset)
	assert.Equal(t, r3.Vec{Z: 10}, res.Shift.Isocenter)
	require.Len(t, res.Plan.Beams, 1, "setup fields are not reconstructed")
	assert.Equal(t, "F1", res.Plan.Beams[0].ID)
	assert.Equal(t, r3.Vec{Z: 10}, res.Plan.Beams[0].Isocenter)
	assert.Equal(t, 1, res.MU.Len())
	assert.True(t, res.Plan.DoseCalculated)
	assert.Equal(t, 120.0, res.Plan.Beams[0].Meterset.Value)
	assert.Equal(t, 1, res.Plan.NumberOfFractions)
	assert.Equal(t, "Prostate", res.Plan.VerifiedPlanID)

	assert.Equal(t, []string{
		"Creating course C1: QA...",
		"Copying structure set ArcCHECK_SS from patient QA_PHANTOM...",
		"Creating QA plan Prostate...",
		"Iso-center of the QA plan will be shifted by 1cm superiorly.",
		"Adding beam F1 to QA plan Prostate...",
		"Calculating dose for QA plan Prostate...",
		"Dose calculation completed.",
		"Please inform QA personnel:",
		"Iso-center of QA plan is shifted by 1cm.",
	}, lines)
	assert.Equal(t, lines, res.Messages)

	assert.Equal(t, []string{
		"CreateCourse C1: QA",
		"CopyPhantomImageAndStructures QA_PHANTOM/ArcCHECK",
		"CreateVerificationPlan C1: QA/Prostate",
		"SetPrescription Prostate",
		"CreateBeam Prostate StaticMLC",
		"SetBeamID F1",
		"ApplyControlPoints F1",
		"SetWeightFactor F1",
		"SetNormalization Prostate",
		"SetCalculationModel Prostate",
		"ComputeDose Prostate",
	}, f.host.Journal())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Beams.WithLabelValues("StaticMLC")))

	// Source plan untouched
	assert.Equal(t, -110.0, f.plan.Beams[0].ControlPoints[0].Jaws.Y1)
	assert.False(t, f.plan.DoseCalculated)
}

func TestRunWithoutShift(t *testing.T) {
	f := newFixture(t, staticBeam("F1", -80, 0, 100))
	res, err := NewPlanner(f.host, Options{}).Run(f.request())
	require.NoError(t, err)

	assert.False(t, res.Shift.Shifted())
	assert.NotContains(t, res.Messages, "Please inform QA personnel:")
	assert.Equal(t, "Dose calculation completed.", res.Messages[len(res.Messages)-1])
}

func TestRunCouchWarning(t *testing.T) {
	f := newFixture(t, staticBeam("F1", -50, 90, 100))
	m := metrics.NewMetrics()
	res, err := NewPlanner(f.host, Options{Metrics: m}).Run(f.request())
	require.NoError(t, err)

	assert.Equal(t, []string{"Couch angle for beam F1 will be set to 0.0."}, res.Warnings)
	assert.Equal(t, 0.0, res.Plan.Beams[0].ControlPoints[0].PatientSupportAngle)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CouchOverrides))
}

func TestRunReusesCourseAndStructureSet(t *testing.T) {
	f := newFixture(t, staticBeam("F1", -50, 0, 100))
	f.host.Patient.Courses = append(f.host.Patient.Courses, &models.Course{ID: "QA-Course"})
	f.host.Patient.StructureSets = append(f.host.Patient.StructureSets,
		&models.StructureSet{ID: "ArcCHECK_SS", Image: models.Image{ID: "ArcCHECK", UserOrigin: r3.Vec{Z: 5}}})

	req := f.request()
	req.QACourseID = "QA-Course"
	res, err := NewPlanner(f.host, Options{}).Run(req)
	require.NoError(t, err)

	assert.Equal(t, r3.Vec{Z: 5}, res.Shift.Isocenter)
	assert.Equal(t, "CreateVerificationPlan QA-Course/Prostate", f.host.Journal()[0])
}

func TestRunSettingsIsocenter(t *testing.T) {
	f := newFixture(t, staticBeam("F1", -50, 0, 100))
	f.settings[0].PhantomIsocenter = r3.Vec{X: 1, Y: 2, Z: 3}

	res, err := NewPlanner(f.host, Options{}).Run(f.request())
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, res.Shift.Isocenter)
}

func TestRunFailures(t *testing.T) {
	t.Run("missing settings", func(t *testing.T) {
		f := newFixture(t, staticBeam("F1", -50, 0, 100))
		f.plan.Beams[0].TreatmentUnitID = "Halcyon"
		_, err := NewPlanner(f.host, Options{}).Run(f.request())
		assert.True(t, errors.Is(err, ErrMissingQASettings))
		assert.Empty(t, f.host.Journal(), "nothing is written before machine matching")
	})

	t.Run("ambiguous machine", func(t *testing.T) {
		other := staticBeam("F2", -50, 0, 100)
		other.TreatmentUnitID = "Halcyon"
		f := newFixture(t, staticBeam("F1", -50, 0, 100), other)
		res, err := NewPlanner(f.host, Options{}).Run(f.request())
		assert.True(t, errors.Is(err, ErrAmbiguousMachine))
		assert.Empty(t, f.host.Journal())
		assert.Nil(t, res.Plan)
	})

	t.Run("plan exists", func(t *testing.T) {
		f := newFixture(t, staticBeam("F1", -50, 0, 100))
		f.host.Patient.Courses = append(f.host.Patient.Courses,
			&models.Course{ID: "C1: QA", Plans: []*models.Plan{{ID: "Prostate"}}})
		res, err := NewPlanner(f.host, Options{}).Run(f.request())
		assert.True(t, errors.Is(err, ErrPlanExists))
		assert.Empty(t, f.host.Journal())
		assert.Equal(t, []string{"Plan Prostate already exists in course C1: QA."}, res.Messages)
	})

	t.Run("no active beams", func(t *testing.T) {
		f := newFixture(t, staticBeam("Setup", -50, 0, 0))
		res, err := NewPlanner(f.host, Options{}).Run(f.request())
		assert.True(t, errors.Is(err, ErrGeometry))
		assert.Contains(t, res.Messages, "Cannot find field edge.")
		assert.NotNil(t, res.Plan, "the plan is created before the shift is computed")
	})

	t.Run("unsupported technique", func(t *testing.T) {
		bad := staticBeam("F2", -50, 0, 100)
		bad.TechniqueID = "TOTAL"
		f := newFixture(t, staticBeam("F1", -50, 0, 100), bad)
		m := metrics.NewMetrics()
		res, err := NewPlanner(f.host, Options{Metrics: m}).Run(f.request())

		assert.True(t, errors.Is(err, ErrUnsupportedTechnique))
		var be *reconstruction.BeamError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "F2", be.BeamID)
		assert.Empty(t, res.Plan.Beams, "no beam is created when any beam is unsupported")
		assert.Equal(t, 0, res.MU.Len())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(metrics.OutcomeFailure)))

		tail := res.Messages[len(res.Messages)-3:]
		assert.Equal(t, []string{
			"Adding beam F2 to QA plan Prostate...",
			err.Error(),
			"Cannot add beam F2 to QA plan, please delete QA plan & try again.",
		}, tail)
		assert.Contains(t, tail[1], `technique "TOTAL"`)
		assert.Contains(t, tail[1], "MLC Static")
	})

	t.Run("duplicate beam ID", func(t *testing.T) {
		f := newFixture(t, staticBeam("F1", -50, 0, 100), staticBeam("F1", -50, 0, 80))
		res, err := NewPlanner(f.host, Options{}).Run(f.request())

		assert.True(t, errors.Is(err, ErrReconstruction))
		assert.Equal(t, 1, res.MU.Len(), "only the first beam is recorded")
		assert.Contains(t, res.Messages, err.Error())
		assert.Equal(t, "Cannot add beam F1 to QA plan, please delete QA plan & try again.",
			res.Messages[len(res.Messages)-1])
	})
}

func TestResultRecord(t *testing.T) {
	f := newFixture(t, staticBeam("F1", -110, 0, 120))
	res, err := NewPlanner(f.host, Options{}).Run(f.request())
	require.NoError(t, err)

	rec := res.Record(nil)
	assert.Equal(t, res.RunID, rec.RunID)
	assert.True(t, rec.Succeeded())
	assert.Equal(t, "PT-1", rec.PatientID)
	assert.Equal(t, "Prostate", rec.PlanID)
	assert.Equal(t, "TrueBeam1", rec.MachineID)
	assert.Equal(t, [3]float64{0, 0, 10}, rec.Isocenter)
	require.Len(t, rec.Beams, 1)
	assert.Equal(t, "StaticMLC", rec.Beams[0].Technique)
	assert.Equal(t, 120.0, rec.Beams[0].MU)

	failed := res.Record(errors.New("boom"))
	assert.False(t, failed.Succeeded())
}
