// Package technique classifies a beam into the closed set of delivery
// archetypes the verification plan can reproduce.
package technique

import (
	"strings"

	"createqaplan/internal/models"
)

// Technique is a beam delivery archetype
type Technique int

const (
	Unsupported Technique = iota
	StaticMLC
	StaticSegmentedWindow
	StaticSlidingWindow
	ConformalArc
	VMAT
)

func (t Technique) String() string {
	switch t {
	case StaticMLC:
		return "StaticMLC"
	case StaticSegmentedWindow:
		return "StaticSegWin"
	case StaticSlidingWindow:
		return "StaticSlidingWin"
	case ConformalArc:
		return "ConformalArc"
	case VMAT:
		return "VMAT"
	default:
		return "Unsupported"
	}
}

// IsArc reports whether the technique rotates the gantry during delivery
func (t Technique) IsArc() bool {
	return t == ConformalArc || t == VMAT
}

// Delivery is the gantry motion class of a beam's technique tag
type Delivery int

const (
	DeliveryOther Delivery = iota
	DeliveryStatic
	DeliveryArc
)

// LogCategory is the calculation log written by the leaf motion calculator
const LogCategory = "LMC"

// Phrases is the leaf motion calculator vocabulary that separates the two
// dose-dynamic static techniques. Matching is case-insensitive.
type Phrases struct {
	Segmented []string `yaml:"segmented"`
	Sliding   []string `yaml:"sliding"`
}

// DefaultPhrases returns the phrases written by the planning system's LMC
func DefaultPhrases() Phrases {
	return Phrases{
		Segmented: []string{"MULTIPLE STATIC SEGMENTS"},
		Sliding:   []string{"SLIDING WINDOW", "SLIDING-WINDOW"},
	}
}

// deliveries maps technique tags to their delivery class
var deliveries = map[string]Delivery{
	"STATIC":     DeliveryStatic,
	"SRS STATIC": DeliveryStatic,
	"ARC":        DeliveryArc,
	"SRS ARC":    DeliveryArc,
}

type modeKey struct {
	delivery Delivery
	mlc      models.MLCPlanType
}

// modes is the decision table for combinations settled by tags alone.
// Static dose-dynamic is absent on purpose: it falls through to the log rule.
var modes = map[modeKey]Technique{
	{DeliveryStatic, models.MLCStatic}:  StaticMLC,
	{DeliveryArc, models.MLCArcDynamic}: ConformalArc,
	{DeliveryArc, models.MLCVMAT}:       VMAT,
}

// Classifier maps beam metadata to a Technique
type Classifier struct {
	phrases Phrases
}

// NewClassifier creates a classifier using the given LMC phrases. Empty
// phrase lists fall back to the defaults.
func NewClassifier(phrases Phrases) *Classifier {
	def := DefaultPhrases()
	if len(phrases.Segmented) == 0 {
		phrases.Segmented = def.Segmented
	}
	if len(phrases.Sliding) == 0 {
		phrases.Sliding = def.Sliding
	}
	return &Classifier{phrases: phrases}
}

// DeliveryOf returns the delivery class of a technique tag
func DeliveryOf(techniqueID string) Delivery {
	return deliveries[strings.ToUpper(strings.TrimSpace(techniqueID))]
}

// Classify returns the technique for the given tags and log lines. The
// lines are only consulted for static dose-dynamic beams.
func (c *Classifier) Classify(techniqueID string, mlc models.MLCPlanType, lmcLines []string) Technique {
	delivery := DeliveryOf(techniqueID)
	if t, ok := modes[modeKey{delivery, mlc}]; ok {
		return t
	}
	if delivery == DeliveryStatic && mlc == models.MLCDoseDynamic {
		return c.classifyLog(lmcLines)
	}
	return Unsupported
}

// ClassifyBeam classifies a beam using its technique, MLC mode and LMC log
func (c *Classifier) ClassifyBeam(bm *models.Beam) Technique {
	var lines []string
	if log, ok := bm.CalculationLog(LogCategory); ok {
		lines = log.MessageLines
	}
	return c.Classify(bm.TechniqueID, bm.MLCPlanType, lines)
}

// classifyLog scans lines in order; the first line naming either technique
// decides
func (c *Classifier) classifyLog(lines []string) Technique {
	for _, line := range lines {
		upper := strings.ToUpper(line)
		if containsAny(upper, c.phrases.Segmented) {
			return StaticSegmentedWindow
		}
		if containsAny(upper, c.phrases.Sliding) {
			return StaticSlidingWindow
		}
	}
	return Unsupported
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
