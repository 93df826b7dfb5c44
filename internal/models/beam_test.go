package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeamAccessors(t *testing.T) {
	bm := Beam{
		ID:            "F1",
		MetersetPerGy: 120,
		ControlPoints: []ControlPoint{
			{GantryAngle: 180, MetersetWeight: 0},
			{GantryAngle: 90, MetersetWeight: 0.4},
			{GantryAngle: 0, MetersetWeight: 1},
		},
		CalculationLogs: []CalculationLog{
			{Category: "Dose", MessageLines: []string{"ok"}},
			{Category: "LMC", MessageLines: []string{"first"}},
			{Category: "LMC", MessageLines: []string{"second"}},
		},
	}

	assert.True(t, bm.IsActive())

	first, ok := bm.FirstControlPoint()
	assert.True(t, ok)
	assert.Equal(t, 180.0, first.GantryAngle)

	last, ok := bm.LastControlPoint()
	assert.True(t, ok)
	assert.Equal(t, 0.0, last.GantryAngle)

	assert.Equal(t, []float64{0, 0.4, 1}, bm.MetersetWeights())

	log, ok := bm.CalculationLog("LMC")
	assert.True(t, ok)
	assert.Equal(t, []string{"first"}, log.MessageLines)

	_, ok = bm.CalculationLog("Missing")
	assert.False(t, ok)
}

func TestSetupBeamIsInactive(t *testing.T) {
	bm := Beam{ID: "SETUP"}
	assert.False(t, bm.IsActive())

	_, ok := bm.FirstControlPoint()
	assert.False(t, ok)
}

func TestEnumParsing(t *testing.T) {
	assert.Equal(t, MLCVMAT, ParseMLCPlanType("VMAT"))
	assert.Equal(t, MLCDoseDynamic, ParseMLCPlanType("DoseDynamic"))
	assert.Equal(t, MLCNotDefined, ParseMLCPlanType("bogus"))
	assert.Equal(t, "ArcDynamic", MLCArcDynamic.String())

	assert.Equal(t, GantryClockwise, ParseGantryDirection("CW"))
	assert.Equal(t, GantryCounterClockwise, ParseGantryDirection("CounterClockwise"))
	assert.Equal(t, GantryNone, ParseGantryDirection(""))
}

func TestCourseHasPlan(t *testing.T) {
	c := Course{ID: "C1: QA", Plans: []*Plan{{ID: "Prostate"}}}
	assert.True(t, c.HasPlan("Prostate"))
	assert.False(t, c.HasPlan("Lung"))
}
