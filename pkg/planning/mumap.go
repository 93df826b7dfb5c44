package planning

import (
	"fmt"

	"createqaplan/internal/models"
)

// MUEntry is the meterset preset for one beam
type MUEntry struct {
	BeamID   string
	Meterset models.MetersetValue
}

// MUMap accumulates beam metersets for dose calculation, in the order the
// beams were added. It belongs to a single run.
type MUMap struct {
	entries []MUEntry
	index   map[string]int
}

// NewMUMap returns an empty MU map
func NewMUMap() *MUMap {
	return &MUMap{index: make(map[string]int)}
}

// Add records the meterset of a beam. Beam IDs are unique within a plan, so
// a second entry for the same ID is rejected.
func (m *MUMap) Add(beamID string, mu models.MetersetValue) error {
	if _, dup := m.index[beamID]; dup {
		return fmt.Errorf("beam %q already has a meterset entry", beamID)
	}
	m.index[beamID] = len(m.entries)
	m.entries = append(m.entries, MUEntry{BeamID: beamID, Meterset: mu})
	return nil
}

// Get returns the meterset recorded for a beam
func (m *MUMap) Get(beamID string) (models.MetersetValue, bool) {
	i, ok := m.index[beamID]
	if !ok {
		return models.MetersetValue{}, false
	}
	return m.entries[i].Meterset, true
}

// Len returns the number of entries
func (m *MUMap) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in insertion order
func (m *MUMap) Entries() []MUEntry {
	out := make([]MUEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Total returns the summed meterset over all beams
func (m *MUMap) Total() float64 {
	var total float64
	for _, e := range m.entries {
		total += e.Meterset.Value
	}
	return total
}
