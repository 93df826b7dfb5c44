package isoshift

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"createqaplan/internal/models"
)

func staticBeam(id string, mu float64, coll, y1 float64) *models.Beam {
	return &models.Beam{
		ID:            id,
		MetersetPerGy: mu,
		ControlPoints: []models.ControlPoint{
			{CollimatorAngle: coll, Jaws: models.JawPositions{X1: -50, Y1: y1, X2: 50, Y2: 100}, MetersetWeight: 0},
			{CollimatorAngle: coll, Jaws: models.JawPositions{X1: -50, Y1: y1, X2: 50, Y2: 100}, MetersetWeight: 1},
		},
	}
}

func TestRequiredOffset(t *testing.T) {
	tests := []struct {
		reach, half, want float64
	}{
		{155, 150, 10},
		{148, 150, 0},
		{150, 150, 0},
		{150.01, 150, 10},
		{170, 150, 20},
		{171, 150, 30},
		{110, 100, 10},
	}
	for _, tt := range tests {
		got := RequiredOffset(tt.reach, tt.half)
		if got != tt.want {
			t.Errorf("RequiredOffset(%v, %v): expected %v, got %v", tt.reach, tt.half, tt.want, got)
		}
	}
}

func TestComputeShiftsSuperiorly(t *testing.T) {
	beams := []*models.Beam{
		staticBeam("F1", 100, 0, -110),
		staticBeam("SETUP", 0, 0, -300),
	}
	candidate := r3.Vec{X: 1, Y: 2, Z: 3}

	shift, err := Compute(beams, candidate, 100)
	require.NoError(t, err)

	assert.Equal(t, []float64{110}, shift.Edges, "setup field must not contribute")
	assert.Equal(t, 110.0, shift.Reach)
	assert.Equal(t, 10.0, shift.Offset)
	assert.Equal(t, 1, shift.OffsetCM())
	assert.True(t, shift.Shifted())
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 13}, shift.Isocenter)
}

func TestComputeUsesMedian(t *testing.T) {
	beams := []*models.Beam{
		staticBeam("F1", 100, 0, -90),
		staticBeam("F2", 100, 0, -200),
		staticBeam("F3", 100, 0, -140),
	}
	shift, err := Compute(beams, r3.Vec{}, 150)
	require.NoError(t, err)
	assert.Equal(t, 140.0, shift.Reach)
	assert.False(t, shift.Shifted())
	assert.Equal(t, r3.Vec{}, shift.Isocenter)
}

func TestComputeCollimatorRotation(t *testing.T) {
	// At 90 degrees X1 bounds the inferior edge
	beams := []*models.Beam{staticBeam("F1", 100, 90, -300)}
	shift, err := Compute(beams, r3.Vec{}, 40)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, shift.Reach, 1e-9)
	assert.Equal(t, 10.0, shift.Offset)
}

func TestComputeNoFieldEdge(t *testing.T) {
	tests := []struct {
		name  string
		beams []*models.Beam
	}{
		{"no beams", nil},
		{"only setup fields", []*models.Beam{staticBeam("SETUP", 0, 0, -100)}},
		{"no control points", []*models.Beam{{ID: "F1", MetersetPerGy: 100}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.beams, r3.Vec{}, 100)
			assert.True(t, errors.Is(err, ErrNoFieldEdge), "got %v", err)
		})
	}
}
