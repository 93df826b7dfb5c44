package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultSettingsFile is the settings file name looked up next to the binary
const DefaultSettingsFile = "createQAPlan.setting"

// ErrConfiguration marks a missing or malformed QA settings file
var ErrConfiguration = errors.New("configuration error")

// QASettings describes the QA phantom used for one treatment machine.
// Lengths are stored in mm; the settings file is written in cm.
type QASettings struct {
	MachineID             string `yaml:"machine"`
	PhantomPatientID      string `yaml:"phantomPatientId"`
	PhantomImageID        string `yaml:"phantomImageId"`
	PhantomStructureSetID string `yaml:"phantomStructureId"`

	// PhantomIsocenter is the zero vector when the line does not set one
	PhantomIsocenter r3.Vec `yaml:"phantomIsocenter"`

	// PhantomLength is the phantom extent inferior of the isocenter
	PhantomLength float64 `yaml:"phantomLength"`
}

// HasIsocenter reports whether the settings carry a phantom isocenter
func (s QASettings) HasIsocenter() bool {
	return s.PhantomIsocenter != (r3.Vec{})
}

var (
	// Each field ends at the next comma or at the end of the line
	machineRe   = regexp.MustCompile(`Machine:\s*(.*?)\s*(?:,|$)`)
	patientRe   = regexp.MustCompile(`Phantom Patient ID:\s*(.*?)\s*(?:,|$)`)
	imageRe     = regexp.MustCompile(`Phantom Image ID:\s*(.*?)\s*(?:,|$)`)
	structureRe = regexp.MustCompile(`Phantom Structure ID:\s*(.*?)\s*(?:,|$)`)
	isoRe       = regexp.MustCompile(`Phantom IsoCenter\(cm\):\s*([-+]?\d*\.?\d*)\s*,\s*([-+]?\d*\.?\d*)\s*,\s*([-+]?\d*\.?\d*)\s*(?:,|$)`)
	lengthRe    = regexp.MustCompile(`Phantom Length\(cm\):\s*([-+]?\d*\.?\d*)`)
)

// cmToMM converts a settings value in cm; unparseable values read as zero
func cmToMM(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return 10.0 * v
}

// ParseSettingsLine reads one machine entry of the form
//
//	Machine:<id>, Phantom Patient ID:<id>, Phantom Image ID:<id>, Phantom Structure ID:<id>, Phantom IsoCenter(cm): <x>,<y>,<z>, Phantom Length(cm): <len>
//
// The four identifiers are mandatory. Isocenter and length default to zero.
func ParseSettingsLine(line string) (QASettings, error) {
	var s QASettings

	mandatory := []struct {
		name string
		re   *regexp.Regexp
		dst  *string
	}{
		{"Machine", machineRe, &s.MachineID},
		{"Phantom Patient ID", patientRe, &s.PhantomPatientID},
		{"Phantom Image ID", imageRe, &s.PhantomImageID},
		{"Phantom Structure ID", structureRe, &s.PhantomStructureSetID},
	}
	for _, field := range mandatory {
		m := field.re.FindStringSubmatch(line)
		if m == nil {
			return QASettings{}, fmt.Errorf("%w: missing %q field", ErrConfiguration, field.name)
		}
		*field.dst = m[1]
	}

	if m := isoRe.FindStringSubmatch(line); m != nil {
		s.PhantomIsocenter = r3.Vec{X: cmToMM(m[1]), Y: cmToMM(m[2]), Z: cmToMM(m[3])}
	}
	if m := lengthRe.FindStringSubmatch(line); m != nil {
		s.PhantomLength = cmToMM(m[1])
	}

	return s, nil
}

// Settings is the list of machine entries read from a settings file
type Settings []QASettings

// ForMachine returns the entry for a treatment unit
func (ss Settings) ForMachine(machineID string) (QASettings, bool) {
	for _, s := range ss {
		if s.MachineID == machineID {
			return s, true
		}
	}
	return QASettings{}, false
}

// Machines lists the configured machine IDs in file order
func (ss Settings) Machines() []string {
	ids := make([]string, len(ss))
	for i, s := range ss {
		ids[i] = s.MachineID
	}
	return ids
}

// ParseSettings reads one entry per non-blank line. Any bad line rejects the
// whole input; the returned error lists every bad line.
func ParseSettings(r io.Reader) (Settings, error) {
	var (
		settings Settings
		errs     error
		seen     = make(map[string]int)
		lineNo   int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s, err := ParseSettingsLine(line)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		if prev, dup := seen[s.MachineID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w: machine %q already configured on line %d",
				lineNo, ErrConfiguration, s.MachineID, prev))
			continue
		}
		seen[s.MachineID] = lineNo
		settings = append(settings, s)
	}
	if err := scanner.Err(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: reading settings: %v", ErrConfiguration, err))
	}

	if errs != nil {
		return nil, errs
	}
	if len(settings) == 0 {
		return nil, fmt.Errorf("%w: no machine entries", ErrConfiguration)
	}
	return settings, nil
}

// LoadSettings reads a settings file from disk
func LoadSettings(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: cannot locate %s", ErrConfiguration, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	defer f.Close()

	settings, err := ParseSettings(f)
	if err != nil {
		return nil, fmt.Errorf("error in reading %s: %w", path, err)
	}
	return settings, nil
}
