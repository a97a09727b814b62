package telemetry

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// TraceSink writes the observable per-segment log: one line per event with
// action, elapsed milliseconds, segment type, sequence number and payload size.
type TraceSink struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewTraceSink constructs a TraceSink writing to w.
func NewTraceSink(w io.Writer) *TraceSink {
	return &TraceSink{w: w}
}

// Record implements Sink.
func (s *TraceSink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	_, s.err = io.WriteString(s.w, FormatEvent(ev)+"\n")
}

// Err returns the first write error, if any.
func (s *TraceSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FormatEvent renders an event as a trace line.
func FormatEvent(ev Event) string {
	ms := float64(ev.Elapsed) / float64(time.Millisecond)
	return fmt.Sprintf("%-8s\t%-10.2f\t%-8s\t%-8d\t%-8d", ev.Action, ms, ev.Type, ev.Seq, ev.Size)
}
