package verification

import (
	"fmt"
	"regexp"

	"createqaplan/internal/models"
)

var courseNumberRe = regexp.MustCompile(`(?i)C\s*[0-9]+`)

// maxCourseNumberLen bounds the "C<n>" match taken from the source course
const maxCourseNumberLen = 10

// DefaultCourseID derives the QA course ID from the source course ID, e.g.
// "C2 Prostate" becomes "C2: QA". IDs without a short course number get
// fallback.
func DefaultCourseID(courseID, suffix, fallback string) string {
	m := courseNumberRe.FindString(courseID)
	if m == "" || len(m) >= maxCourseNumberLen {
		return fallback
	}
	return m + suffix
}

// FindMachine returns the treatment unit shared by every beam of the plan,
// setup fields included
func FindMachine(beams []*models.Beam) (string, error) {
	machine := ""
	for _, bm := range beams {
		switch {
		case machine == "":
			machine = bm.TreatmentUnitID
		case bm.TreatmentUnitID != machine:
			return "", fmt.Errorf("%w: %s and %s", ErrAmbiguousMachine, machine, bm.TreatmentUnitID)
		}
	}
	if machine == "" {
		return "", fmt.Errorf("%w: plan has no beams", ErrMissingQASettings)
	}
	return machine, nil
}
