// ABOUTME: Semicolon-separated statistics writer
// ABOUTME: Writes one row per slot with a fixed header
package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

var csvHeader = []string{"timeslot_idx", "rcv_time", "local_time", "valid"}

// CSVSink writes slot rows to a writer
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes the header and returns a sink over w
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	cw.Flush()
	return &CSVSink{w: cw}, cw.Error()
}

// OpenCSV creates or truncates path and returns a sink writing to it
func OpenCSV(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats file: %w", err)
	}
	s, err := NewCSVSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// Write appends one row per slot
func (s *CSVSink) Write(b Burst) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range b.Slots {
		valid := "0"
		if slot.Valid {
			valid = "1"
		}
		row := []string{
			strconv.Itoa(slot.Slot),
			strconv.FormatUint(slot.RemoteTicks, 10),
			strconv.FormatUint(slot.LocalTicks, 10),
			valid,
		}
		if err := s.w.Write(row); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the underlying file, if any
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	if s.closer != nil {
		return s.closer.Close()
	}
	return s.w.Error()
}
