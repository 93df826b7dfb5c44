// Package verification creates and calculates a QA verification plan for a
// treatment plan: it places every treated field on a phantom, shifts the
// isocenter so that no field extends past the phantom, and hands the source
// MU to dose calculation.
package verification

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"createqaplan/internal/models"
	"createqaplan/pkg/archive"
	"createqaplan/pkg/config"
	"createqaplan/pkg/isoshift"
	"createqaplan/pkg/metrics"
	"createqaplan/pkg/planning"
	"createqaplan/pkg/reconstruction"
	"createqaplan/pkg/technique"
)

// Options configures a Planner
type Options struct {
	// Classifier assigns beam techniques; nil uses the default phrases
	Classifier *technique.Classifier

	// Logger receives structured progress; nil discards it
	Logger *zap.Logger

	// Messenger receives operator status lines in order; may be nil
	Messenger func(msg string)

	// CourseSuffix and CourseFallback name the QA course when the request
	// leaves it empty
	CourseSuffix   string
	CourseFallback string

	// Metrics is updated after every run when set
	Metrics *metrics.Metrics
}

// Request selects the plan to verify
type Request struct {
	// PatientID is recorded with the result
	PatientID string

	Course *models.Course
	Plan   *models.Plan

	// QACourseID overrides the derived QA course ID
	QACourseID string

	Settings config.Settings
}

// Result describes a run. A result is returned even when the run fails so
// the partial outcome can be archived.
type Result struct {
	RunID     string
	Started   time.Time
	PatientID string
	Source    *models.Plan
	MachineID string
	CourseID  string

	// Plan is the verification plan; nil if the run stopped before creating it
	Plan  *models.Plan
	Shift isoshift.Shift

	// Blueprints holds the verification beams in source-plan order
	Blueprints []*reconstruction.Blueprint
	MU         *planning.MUMap

	Messages []string
	Warnings []string
}

// Planner runs QA plan creation against a host
type Planner struct {
	host planning.Host
	opts Options
	log  *zap.Logger
}

// NewPlanner creates a planner
func NewPlanner(host planning.Host, opts Options) *Planner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classifier == nil {
		opts.Classifier = technique.NewClassifier(technique.DefaultPhrases())
	}
	if opts.CourseSuffix == "" {
		opts.CourseSuffix = ": QA"
	}
	if opts.CourseFallback == "" {
		opts.CourseFallback = "QA"
	}
	return &Planner{host: host, opts: opts, log: opts.Logger}
}

func (p *Planner) message(res *Result, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	res.Messages = append(res.Messages, msg)
	p.log.Info(msg, zap.String("run", res.RunID))
	if p.opts.Messenger != nil {
		p.opts.Messenger(msg)
	}
}

func (p *Planner) warn(res *Result, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	res.Warnings = append(res.Warnings, msg)
	p.log.Warn(msg, zap.String("run", res.RunID))
	if p.opts.Messenger != nil {
		p.opts.Messenger(msg)
	}
}

// Run creates the verification plan for req.Plan and computes its dose.
// Beams are processed in source-plan order. A failure leaves whatever was
// already created in place.
func (p *Planner) Run(req Request) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Started:   time.Now(),
		PatientID: req.PatientID,
		Source:    req.Plan,
		MU:        planning.NewMUMap(),
	}
	err := p.run(req, res)
	p.observe(res, err)
	if err != nil {
		p.log.Error("QA plan run failed", zap.String("run", res.RunID), zap.Error(err))
	}
	return res, err
}

func (p *Planner) run(req Request, res *Result) error {
	if req.Plan == nil {
		return fmt.Errorf("%w: no plan selected", ErrConfiguration)
	}
	sourceBeams := p.host.ListBeams(req.Plan)

	// Machine matching precedes every write
	machine, err := FindMachine(sourceBeams)
	if err != nil {
		p.message(res, "Treatment machine is not set in settings or multiple machines present in plan!")
		return err
	}
	res.MachineID = machine
	qa, ok := req.Settings.ForMachine(machine)
	if !ok {
		p.message(res, "Treatment machine is not set in settings or multiple machines present in plan!")
		return fmt.Errorf("%w: %s", ErrMissingQASettings, machine)
	}

	courseID := req.QACourseID
	if courseID == "" {
		sourceCourse := req.Plan.CourseID
		if req.Course != nil {
			sourceCourse = req.Course.ID
		}
		courseID = DefaultCourseID(sourceCourse, p.opts.CourseSuffix, p.opts.CourseFallback)
	}
	res.CourseID = courseID

	course, ok := p.host.FindCourse(courseID)
	if !ok {
		p.message(res, "Creating course %s...", courseID)
		if course, err = p.host.CreateCourse(courseID); err != nil {
			return fmt.Errorf("creating course %s: %w", courseID, err)
		}
	}

	planID := req.Plan.ID
	if course.HasPlan(planID) {
		p.message(res, "Plan %s already exists in course %s.", planID, courseID)
		return fmt.Errorf("%w: %s in %s", ErrPlanExists, planID, courseID)
	}

	ss, ok := p.host.FindStructureSet(qa.PhantomStructureSetID)
	if !ok {
		p.message(res, "Copying structure set %s from patient %s...", qa.PhantomStructureSetID, qa.PhantomPatientID)
		if ss, err = p.host.CopyPhantomImageAndStructures(qa.PhantomPatientID, qa.PhantomImageID); err != nil {
			return fmt.Errorf("copying phantom %s: %w", qa.PhantomPatientID, err)
		}
	}

	p.message(res, "Creating QA plan %s...", planID)
	plan, err := p.host.CreateVerificationPlan(ss, course, req.Plan, planID)
	if err != nil {
		return fmt.Errorf("creating QA plan %s: %w", planID, err)
	}
	res.Plan = plan
	if err := p.host.SetPrescription(plan, 1, req.Plan.DosePerFraction, req.Plan.TreatmentPercentage); err != nil {
		return fmt.Errorf("setting prescription of %s: %w", planID, err)
	}

	candidate := ss.Image.UserOrigin
	if qa.HasIsocenter() {
		candidate = qa.PhantomIsocenter
	}
	shift, err := isoshift.Compute(sourceBeams, candidate, qa.PhantomLength)
	if err != nil {
		p.message(res, "Cannot find field edge.")
		p.message(res, "Please double check field parameters and its MU.")
		return err
	}
	res.Shift = shift
	p.log.Debug("Isocenter computed",
		zap.Float64("reach", shift.Reach),
		zap.Float64("offset", shift.Offset),
		zap.Float64s("edges", shift.Edges))
	if shift.Shifted() {
		p.message(res, "Iso-center of the QA plan will be shifted by %dcm superiorly.", shift.OffsetCM())
	}

	rec := reconstruction.NewReconstructor(&reconstruction.Params{
		Isocenter:  shift.Isocenter,
		Classifier: p.opts.Classifier,
		Logger:     p.log,
	})

	// Every active beam is described before the first one is created
	for _, src := range sourceBeams {
		if !src.IsActive() {
			continue
		}
		bp, err := rec.Blueprint(src)
		if err != nil {
			p.message(res, "Adding beam %s to QA plan %s...", src.ID, plan.ID)
			p.message(res, "%v", err)
			p.message(res, "Cannot add beam %s to QA plan, please delete QA plan & try again.", src.ID)
			return err
		}
		res.Blueprints = append(res.Blueprints, bp)
	}

	for _, bp := range res.Blueprints {
		if bp.CouchOverridden {
			p.warn(res, "Couch angle for beam %s will be set to 0.0.", bp.SourceID)
		}
		p.message(res, "Adding beam %s to QA plan %s...", bp.SourceID, plan.ID)
		if _, err := rec.CommitAndRecord(p.host, plan, bp, res.MU); err != nil {
			p.message(res, "%v", err)
			p.message(res, "Cannot add beam %s to QA plan, please delete QA plan & try again.", bp.SourceID)
			return err
		}
	}

	if err := p.host.SetNormalization(plan, req.Plan.PlanNormalizationValue); err != nil {
		return fmt.Errorf("setting normalization of %s: %w", planID, err)
	}
	if err := p.host.SetCalculationModel(plan, req.Plan.PhotonCalculationModel); err != nil {
		return fmt.Errorf("setting calculation model of %s: %w", planID, err)
	}

	p.message(res, "Calculating dose for QA plan %s...", plan.ID)
	if err := p.host.ComputeDose(plan, res.MU); err != nil {
		return fmt.Errorf("calculating dose for %s: %w", planID, err)
	}
	p.message(res, "Dose calculation completed.")
	if shift.Shifted() {
		p.message(res, "Please inform QA personnel:")
		p.message(res, "Iso-center of QA plan is shifted by %dcm.", shift.OffsetCM())
	}
	return nil
}

func (p *Planner) observe(res *Result, err error) {
	m := p.opts.Metrics
	if m == nil {
		return
	}
	if err != nil {
		m.Runs.WithLabelValues(metrics.OutcomeFailure).Inc()
		return
	}
	m.Runs.WithLabelValues(metrics.OutcomeSuccess).Inc()
	m.IsoShift.Observe(res.Shift.Offset)
	for _, bp := range res.Blueprints {
		m.Beams.WithLabelValues(bp.Technique.String()).Inc()
		if bp.CouchOverridden {
			m.CouchOverrides.Inc()
		}
	}
}

// Record converts the result into an archive record. runErr is the error
// returned by Run, if any.
func (r *Result) Record(runErr error) *archive.Record {
	rec := &archive.Record{
		RunID:     r.RunID,
		Timestamp: r.Started,
		PatientID: r.PatientID,
		CourseID:  r.CourseID,
		MachineID: r.MachineID,
		Isocenter: [3]float64{r.Shift.Isocenter.X, r.Shift.Isocenter.Y, r.Shift.Isocenter.Z},
		ShiftMM:   r.Shift.Offset,
		Messages:  append([]string(nil), r.Messages...),
	}
	if r.Source != nil {
		rec.SourcePlanID = r.Source.ID
	}
	if r.Plan != nil {
		rec.PlanID = r.Plan.ID
	}
	techniques := make(map[string]string, len(r.Blueprints))
	for _, bp := range r.Blueprints {
		techniques[bp.SourceID] = bp.Technique.String()
	}
	for _, e := range r.MU.Entries() {
		rec.Beams = append(rec.Beams, archive.BeamMU{
			BeamID:    e.BeamID,
			Technique: techniques[e.BeamID],
			MU:        e.Meterset.Value,
			Unit:      e.Meterset.Unit,
		})
	}
	if runErr != nil {
		rec.Err = runErr.Error()
	}
	return rec
}
