// Package geometry provides the field-edge trigonometry and statistics used
// to place a verification isocenter on a phantom.
package geometry

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"createqaplan/internal/models"
)

// ErrEmptyInput is returned by Median for an empty sequence
var ErrEmptyInput = errors.New("median of empty input")

const (
	// DeadBand is the |cos| or |sin| below which a jaw pair is taken not
	// to define the inferior field edge
	DeadBand = 0.01

	// EdgeSentinel stands in for "unbounded" and is larger than any
	// physical field extent, in mm
	EdgeSentinel = 400.0
)

// Median returns the median of values. For an even count it is the mean of
// the two central elements. The input slice is not modified.
func Median(values []float64) (float64, error) {
	n := len(values)
	if n == 0 {
		return 0, ErrEmptyInput
	}

	// Sort a copy so the caller's ordering survives
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, nil
	}
	return sorted[n/2], nil
}

// InferiorFieldEdge approximates the distance in mm from isocenter to the
// inferior edge of a field shaped by the jaws after a collimator rotation of
// collimatorAngle degrees.
//
// Up to 90 degrees Y1 bounds the inferior edge, past 90 degrees Y2 does.
// Counter-clockwise rotation (in BEV) brings X1 onto the inferior side,
// clockwise rotation brings X2. The smaller of the two candidate extents is
// the edge.
func InferiorFieldEdge(collimatorAngle float64, jaws models.JawPositions) float64 {
	theta := collimatorAngle * math.Pi / 180.0
	cosAng := math.Cos(theta)
	sinAng := math.Sin(theta)

	delY := EdgeSentinel
	delX := EdgeSentinel

	if cosAng > DeadBand {
		delY = -jaws.Y1 / cosAng
	} else if cosAng < -DeadBand {
		delY = -jaws.Y2 / cosAng
	}

	if sinAng > DeadBand {
		delX = -jaws.X1 / sinAng
	} else if sinAng < -DeadBand {
		delX = -jaws.X2 / sinAng
	}

	return floats.Min([]float64{delX, delY})
}
