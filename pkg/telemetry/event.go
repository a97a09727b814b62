// Package telemetry records the per-segment event trace and the
// end-of-connection counters of a PTP endpoint.
package telemetry

import (
	"sync"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/ptp/pkg/segment"
	"github.com/skycoin/ptp/pkg/seqnum"
)

// Action is what an endpoint did with a segment.
type Action string

// Actions.
const (
	Snd = Action("snd")
	Rcv = Action("rcv")
	Drp = Action("drp")
)

// Event describes a single send, receive or drop decision.
type Event struct {
	Action     Action
	Elapsed    time.Duration // since connection start
	Type       segment.Type
	Seq        seqnum.Value
	Size       int
	Retransmit bool
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ev Event)
}

type discard struct{}

func (discard) Record(Event) {}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type multiSink []Sink

// MultiSink fans events out to every given sink.
func MultiSink(sinks ...Sink) Sink {
	ms := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			ms = append(ms, s)
		}
	}
	return ms
}

func (ms multiSink) Record(ev Event) {
	for _, s := range ms {
		s.Record(ev)
	}
}

// MemorySink keeps every event in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (m *MemorySink) Record(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Filter returns the recorded events with the given action and type.
func (m *MemorySink) Filter(a Action, t segment.Type) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Action == a && ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type logSink struct {
	log *logging.Logger
}

// LogSink writes every event as a debug line of the given logger.
func LogSink(log *logging.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Record(ev Event) {
	s.log.WithField("elapsed", ev.Elapsed).
		WithField("seq", ev.Seq).
		WithField("size", ev.Size).
		Debugf("%s %s", ev.Action, ev.Type)
}

// Clock measures time elapsed since the connection started. It reports zero
// until Start is called.
type Clock struct {
	mu    sync.RWMutex
	start time.Time
}

// Start records the connection start time.
func (c *Clock) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Started reports whether Start was called.
func (c *Clock) Started() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.start.IsZero()
}

// StartTime returns the connection start time.
func (c *Clock) StartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// Elapsed returns the time since Start.
func (c *Clock) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.start.IsZero() {
		return 0
	}
	return time.Since(c.start)
}
