// Package isoshift computes how far the verification isocenter must move
// superiorly so that no treatment field hangs off the inferior end of the
// QA phantom.
package isoshift

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"createqaplan/internal/models"
	"createqaplan/pkg/geometry"
)

// ErrNoFieldEdge means no active beam yielded a field edge, either because
// the beam parameters are invalid or every beam has zero MU
var ErrNoFieldEdge = errors.New("no field edge found")

// ShiftStep is the granularity of an isocenter shift, in mm
const ShiftStep = 10.0

// Shift is the outcome of an isocenter shift computation
type Shift struct {
	// Isocenter is the isocenter every verification beam is placed on
	Isocenter r3.Vec

	// Reach is the median inferior field edge over the active beams, in mm
	Reach float64

	// Edges holds the inferior edge of each active beam in plan order
	Edges []float64

	// Offset is the superior shift applied to the candidate isocenter, in mm
	Offset float64
}

// Shifted reports whether the isocenter moved
func (s Shift) Shifted() bool {
	return s.Offset > 0
}

// OffsetCM returns the applied shift in whole centimetres
func (s Shift) OffsetCM() int {
	return int(s.Offset / ShiftStep)
}

// FieldEdges returns the inferior field edge of every active beam, taken
// from the first control point
func FieldEdges(beams []*models.Beam) []float64 {
	var edges []float64
	for _, bm := range beams {
		if !bm.IsActive() {
			continue
		}
		cp, ok := bm.FirstControlPoint()
		if !ok {
			continue
		}
		edges = append(edges, geometry.InferiorFieldEdge(cp.CollimatorAngle, cp.Jaws))
	}
	return edges
}

// RequiredOffset returns the superior shift that keeps a field reaching
// reach mm inferiorly within a phantom extending halfLength mm, rounded up
// to the next whole centimetre
func RequiredOffset(reach, halfLength float64) float64 {
	if reach <= halfLength {
		return 0
	}
	return math.Ceil(reach/ShiftStep-halfLength/ShiftStep) * ShiftStep
}

// Compute places the isocenter for a verification plan. candidate is the
// phantom isocenter before shifting and halfLength the phantom extent
// inferior of it, both in mm. Superior is +Z.
func Compute(beams []*models.Beam, candidate r3.Vec, halfLength float64) (Shift, error) {
	edges := FieldEdges(beams)
	if len(edges) == 0 {
		return Shift{}, fmt.Errorf("%w: please double check field parameters and its MU", ErrNoFieldEdge)
	}

	reach, err := geometry.Median(edges)
	if err != nil {
		return Shift{}, fmt.Errorf("%w: %v", ErrNoFieldEdge, err)
	}

	offset := RequiredOffset(reach, halfLength)
	return Shift{
		Isocenter: r3.Add(candidate, r3.Vec{Z: offset}),
		Reach:     reach,
		Edges:     edges,
		Offset:    offset,
	}, nil
}
