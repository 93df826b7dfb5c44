package reconstruction

import (
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"createqaplan/internal/models"
	"createqaplan/pkg/planning"
	"createqaplan/pkg/technique"
)

var (
	// ErrUnsupportedTechnique means the beam's delivery cannot be reproduced
	ErrUnsupportedTechnique = errors.New("unsupported beam technique")

	// ErrReconstruction means the verification beam could not be built
	ErrReconstruction = errors.New("beam reconstruction failed")
)

// BeamError ties a reconstruction failure to the source beam
type BeamError struct {
	BeamID string
	Err    error
}

func (e *BeamError) Error() string {
	return fmt.Sprintf("beam %s: %v", e.BeamID, e.Err)
}

func (e *BeamError) Unwrap() error {
	return e.Err
}

// Neutral aperture for static MLC construction. It is always overwritten
// by the source control points.
const (
	neutralLeafBanks = 2
	neutralLeafPairs = 60
	neutralJawHalf   = 10.0
)

// energyModeRe splits e.g. "6X-FFF" into "6X" and "FFF"
var energyModeRe = regexp.MustCompile(`(?i)^([0-9]+[A-Z]+)-?([A-Z]+)?`)

// ParseEnergyMode splits an energy mode display name into the energy and the
// primary fluence mode. The fluence mode is empty for the default flattened
// beam, and the display name is returned unchanged when it does not follow
// the <number><letters>[-<letters>] pattern.
func ParseEnergyMode(displayName string) (energy, fluence string) {
	m := energyModeRe.FindStringSubmatch(displayName)
	if m == nil || m[2] == "" {
		return displayName, ""
	}
	return m[1], m[2]
}

// Params holds the per-run reconstruction parameters
type Params struct {
	// Isocenter is shared by every beam of the verification plan, in mm
	Isocenter r3.Vec

	// Classifier assigns the delivery technique; nil uses the default phrases
	Classifier *technique.Classifier

	// Logger receives structured progress; nil discards it
	Logger *zap.Logger
}

// Blueprint is a verification beam fully described before any host call is
// made. Committing it replays the construction against a host.
type Blueprint struct {
	SourceID  string
	Technique technique.Technique
	Request   planning.BeamRequest

	// Edits overwrite the constructed control points index for index
	Edits []planning.ControlPointEdit

	WeightFactor float64
	Meterset     models.MetersetValue

	// CouchOverridden is set when the source couch angle was non-zero
	CouchOverridden bool
	SourceCouch     float64
}

// Reconstructor rebuilds source plan beams on the verification isocenter
type Reconstructor struct {
	params     *Params
	classifier *technique.Classifier
	logger     *zap.Logger
}

// NewReconstructor creates a reconstructor for one run
func NewReconstructor(params *Params) *Reconstructor {
	r := &Reconstructor{
		params:     params,
		classifier: params.Classifier,
		logger:     params.Logger,
	}
	if r.classifier == nil {
		r.classifier = technique.NewClassifier(technique.DefaultPhrases())
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Blueprint describes the verification beam for src without touching the
// host. The source beam is not modified; leaf matrices are copied.
func (r *Reconstructor) Blueprint(src *models.Beam) (*Blueprint, error) {
	tech := r.classifier.ClassifyBeam(src)
	if tech == technique.Unsupported {
		return nil, &BeamError{BeamID: src.ID, Err: fmt.Errorf("%w: technique %q with MLC %s",
			ErrUnsupportedTechnique, src.TechniqueID, src.MLCPlanType)}
	}

	first, ok := src.FirstControlPoint()
	if !ok {
		return nil, &BeamError{BeamID: src.ID, Err: fmt.Errorf("%w: no control points", ErrReconstruction)}
	}
	last, _ := src.LastControlPoint()

	energy, fluence := ParseEnergyMode(src.EnergyModeDisplayName)

	req := planning.BeamRequest{
		Technique: tech,
		Machine: planning.MachineParameters{
			TreatmentUnitID:    src.TreatmentUnitID,
			Energy:             energy,
			DoseRate:           src.DoseRate,
			TechniqueID:        src.TechniqueID,
			PrimaryFluenceMode: fluence,
		},
		CollimatorAngle: first.CollimatorAngle,
		GantryAngle:     first.GantryAngle,
		CouchAngle:      0,
		Isocenter:       r.params.Isocenter,
	}

	switch tech {
	case technique.StaticMLC:
		req.Leaves = make([][]float64, neutralLeafBanks)
		for i := range req.Leaves {
			req.Leaves[i] = make([]float64, neutralLeafPairs)
		}
		req.Jaws = models.JawPositions{X1: -neutralJawHalf, Y1: -neutralJawHalf, X2: neutralJawHalf, Y2: neutralJawHalf}
	case technique.StaticSegmentedWindow, technique.StaticSlidingWindow:
		req.MetersetWeights = src.MetersetWeights()
	case technique.ConformalArc, technique.VMAT:
		req.ControlPointCount = len(src.ControlPoints)
		req.GantryStop = last.GantryAngle
		req.Direction = src.GantryDirection
		if tech == technique.VMAT {
			req.MetersetWeights = src.MetersetWeights()
		}
	}

	edits := make([]planning.ControlPointEdit, len(src.ControlPoints))
	for i, cp := range src.ControlPoints {
		edits[i] = planning.ControlPointEdit{
			LeafPositions: copyLeaves(cp.LeafPositions),
			Jaws:          cp.Jaws,
		}
	}

	return &Blueprint{
		SourceID:        src.ID,
		Technique:       tech,
		Request:         req,
		Edits:           edits,
		WeightFactor:    src.WeightFactor,
		Meterset:        src.Meterset,
		CouchOverridden: first.PatientSupportAngle != 0,
		SourceCouch:     first.PatientSupportAngle,
	}, nil
}

// Commit creates the beam described by bp in plan. The host calls are made
// in a fixed order: construct, rename, overwrite control points, set weight.
func (r *Reconstructor) Commit(host planning.Host, plan *models.Plan, bp *Blueprint) (*models.Beam, error) {
	if plan == nil {
		return nil, &BeamError{BeamID: bp.SourceID, Err: fmt.Errorf("%w: no verification plan", ErrReconstruction)}
	}

	bm, err := host.CreateBeam(plan, bp.Request)
	if err != nil {
		return nil, r.fail(bp, "create beam", err)
	}
	if bm == nil {
		return nil, r.fail(bp, "create beam", errors.New("host returned no beam"))
	}
	if err := host.SetBeamID(bm, bp.SourceID); err != nil {
		return nil, r.fail(bp, "set beam ID", err)
	}
	if err := host.ApplyControlPoints(bm, bp.Edits); err != nil {
		return nil, r.fail(bp, "apply control points", err)
	}
	if err := host.SetWeightFactor(bm, bp.WeightFactor); err != nil {
		return nil, r.fail(bp, "set weight factor", err)
	}

	r.logger.Debug("Verification beam committed",
		zap.String("beam", bp.SourceID),
		zap.Stringer("technique", bp.Technique),
		zap.Int("controlPoints", len(bp.Edits)))
	return bm, nil
}

// AddBeam builds and commits the verification beam for src and records its
// meterset in mu. The recorded meterset is the source beam's, unchanged.
func (r *Reconstructor) AddBeam(host planning.Host, plan *models.Plan, src *models.Beam, mu *planning.MUMap) (*models.Beam, error) {
	bp, err := r.Blueprint(src)
	if err != nil {
		return nil, err
	}
	return r.CommitAndRecord(host, plan, bp, mu)
}

// CommitAndRecord commits bp and then records its meterset in mu. Nothing is
// recorded when the commit fails.
func (r *Reconstructor) CommitAndRecord(host planning.Host, plan *models.Plan, bp *Blueprint, mu *planning.MUMap) (*models.Beam, error) {
	bm, err := r.Commit(host, plan, bp)
	if err != nil {
		return nil, err
	}
	if err := mu.Add(bp.SourceID, bp.Meterset); err != nil {
		return nil, r.fail(bp, "record meterset", err)
	}
	return bm, nil
}

func (r *Reconstructor) fail(bp *Blueprint, step string, err error) error {
	r.logger.Error("Verification beam failed",
		zap.String("beam", bp.SourceID),
		zap.String("step", step),
		zap.Error(err))
	return &BeamError{BeamID: bp.SourceID, Err: fmt.Errorf("%w: %s: %v", ErrReconstruction, step, err)}
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
