// Package publish delivers received bursts to files and message brokers.
package publish

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"burstlink/host/receiver"
)

// CSVHeader is the first row written by CSVSink
var CSVHeader = []string{"burst_id", "type", "ts_us", "x", "y", "z", "w"}

// CSVSink writes one row per sample. Aborted bursts are written as a
// single row with the abort code in place of the timestamp.
type CSVSink struct {
	mu      sync.Mutex
	w       *csv.Writer
	started bool
}

// NewCSVSink creates a sink writing to w
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// Deliver implements receiver.Sink
func (s *CSVSink) Deliver(b *receiver.Burst) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		if err := s.w.Write(CSVHeader); err != nil {
			return err
		}
		s.started = true
	}

	id := strconv.FormatUint(uint64(b.ID), 10)
	if b.Aborted {
		row := []string{id, b.Type, "aborted:" + strconv.FormatUint(uint64(b.Code), 10), "", "", "", ""}
		if err := s.w.Write(row); err != nil {
			return err
		}
		s.w.Flush()
		return s.w.Error()
	}

	recs, err := b.Records()
	if err != nil {
		return fmt.Errorf("burst %d: %w", b.ID, err)
	}
	for _, r := range recs {
		row := []string{
			id,
			b.Type,
			strconv.FormatUint(uint64(r.TimestampUs), 10),
			formatFloat(r.X),
			formatFloat(r.Y),
			formatFloat(r.Z),
			formatFloat(r.W),
		}
		if err := s.w.Write(row); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 3, 32)
}
