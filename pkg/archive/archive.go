// Package archive keeps a record of every QA plan run in a BadgerDB store,
// so operators can trace which verification plans were created and why a
// run stopped.
package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

var keyPrefix = []byte("run/")

// ErrNoRecord is returned by Get for an unknown run ID
var ErrNoRecord = errors.New("no such run")

// BeamMU is the meterset recorded for one verification beam
type BeamMU struct {
	BeamID    string
	Technique string
	MU        float64
	Unit      string
}

// Record describes one run
type Record struct {
	RunID     string
	Timestamp time.Time

	PatientID    string
	SourcePlanID string
	CourseID     string
	PlanID       string
	MachineID    string

	// Isocenter of the verification plan in mm
	Isocenter [3]float64
	ShiftMM   float64

	Beams    []BeamMU
	Messages []string

	// Err is empty for a successful run
	Err string
}

// Succeeded reports whether the run completed dose calculation
func (r *Record) Succeeded() bool {
	return r.Err == ""
}

// Store is a run archive
type Store struct {
	DB     *badger.DB
	logger *zap.Logger
}

// Open opens or creates an archive in dir. An empty dir opens an
// in-memory archive.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		logger.Error("Archive failed to open database", zap.Error(err), zap.String("path", dir))
		return nil, fmt.Errorf("archive database error: %w", err)
	}
	logger.Debug("Archive opened", zap.String("path", dir))
	return &Store{DB: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	if err := s.DB.Close(); err != nil {
		return fmt.Errorf("archive close failed: %w", err)
	}
	return nil
}

// recordKey sorts chronologically: prefix + big-endian nanoseconds + run ID
func recordKey(r *Record) []byte {
	key := make([]byte, 0, len(keyPrefix)+8+len(r.RunID))
	key = append(key, keyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(r.Timestamp.UnixNano()))
	return append(key, r.RunID...)
}

func encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Record, error) {
	var r Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Put stores a record
func (s *Store) Put(r *Record) error {
	if r.RunID == "" {
		return errors.New("record needs a run ID")
	}
	val, err := encode(r)
	if err != nil {
		return fmt.Errorf("record encode error: %w", err)
	}
	err = s.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r), val)
	})
	if err != nil {
		s.logger.Error("Archive failed to store run", zap.String("run", r.RunID), zap.Error(err))
		return fmt.Errorf("archive write error: %w", err)
	}
	return nil
}

// List returns all records, oldest first
func (s *Store) List() ([]*Record, error) {
	var records []*Record
	err := s.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, err := decode(val)
				if err != nil {
					return fmt.Errorf("record decode error: %w", err)
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

// Get returns the record of a run
func (s *Store) Get(runID string) (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.RunID == runID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRecord, runID)
}
