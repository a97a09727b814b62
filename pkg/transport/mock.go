package transport

import (
	"sync"

	"github.com/skycoin/ptp/pkg/segment"
)

const mockQueueLen = 1024

// Filter decides whether a segment written to a MockTransport reaches the
// peer. Returning false drops it.
type Filter func(seg segment.Segment) bool

// MockTransport implements Transport over in-memory queues. Like UDP it
// never blocks on Send: a segment that does not fit the peer's queue is lost.
type MockTransport struct {
	in   chan segment.Segment
	out  chan segment.Segment
	done chan struct{}
	once sync.Once

	filterMx sync.RWMutex
	filter   Filter
}

// NewMockPair constructs a pair of connected MockTransports.
func NewMockPair() (*MockTransport, *MockTransport) {
	var (
		ab = make(chan segment.Segment, mockQueueLen)
		ba = make(chan segment.Segment, mockQueueLen)
	)
	a := &MockTransport{in: ba, out: ab, done: make(chan struct{})}
	b := &MockTransport{in: ab, out: ba, done: make(chan struct{})}
	return a, b
}

// SetFilter installs a filter applied to every segment sent from this end.
func (m *MockTransport) SetFilter(f Filter) {
	m.filterMx.Lock()
	m.filter = f
	m.filterMx.Unlock()
}

// Send implements Transport.
func (m *MockTransport) Send(seg segment.Segment) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	m.filterMx.RLock()
	f := m.filter
	m.filterMx.RUnlock()
	if f != nil && !f(seg) {
		return nil
	}

	select {
	case m.out <- seg:
	default:
	}
	return nil
}

// Recv implements Transport.
func (m *MockTransport) Recv() (segment.Segment, error) {
	select {
	case <-m.done:
		return segment.Segment{}, ErrClosed
	case seg := <-m.in:
		return seg, nil
	}
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() { close(m.done) })
	return nil
}

// Type implements Transport.
func (m *MockTransport) Type() string { return "mock" }
