package verification

import (
	"errors"

	"createqaplan/pkg/config"
	"createqaplan/pkg/isoshift"
	"createqaplan/pkg/reconstruction"
)

// Run failures. Configuration and machine errors are raised before the
// planning system is touched; the others may leave a partial QA plan.
var (
	ErrConfiguration        = config.ErrConfiguration
	ErrAmbiguousMachine     = errors.New("multiple treatment machines in plan")
	ErrMissingQASettings    = errors.New("treatment machine is not set in settings")
	ErrPlanExists           = errors.New("plan already exists in QA course")
	ErrGeometry             = isoshift.ErrNoFieldEdge
	ErrUnsupportedTechnique = reconstruction.ErrUnsupportedTechnique
	ErrReconstruction       = reconstruction.ErrReconstruction
)
