// Package receiver implements the receiving endpoint of PTP: it accepts a
// single connection, reassembles data in order, emulates loss on both
// directions and persists the result when the sender tears the connection
// down.
package receiver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/ptp/pkg/segment"
	"github.com/skycoin/ptp/pkg/seqnum"
	"github.com/skycoin/ptp/pkg/telemetry"
	"github.com/skycoin/ptp/pkg/transport"
	"github.com/skycoin/ptp/pkg/util/pathutil"
)

// ErrPeerReset is returned when the sender aborted the connection.
var ErrPeerReset = errors.New("connection reset by sender")

// State is the connection state of a Receiver.
type State int

// Receiver states.
const (
	Listen State = iota
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Listen:
		return "LISTEN"
	case Established:
		return "ESTABLISHED"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN:%d", int(s))
	}
}

// Rand is the source of loss decisions.
type Rand interface {
	Float64() float64
}

// PersistFunc writes the Ordered Output once the connection completed.
type PersistFunc func(data []byte) error

// Option configures a Receiver.
type Option func(r *Receiver)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Receiver) { r.log = log }
}

// WithSink sets the sink every send, receive and drop is recorded to.
func WithSink(sink telemetry.Sink) Option {
	return func(r *Receiver) { r.sink = sink }
}

// WithRand sets the randomness source for loss decisions.
func WithRand(rnd Rand) Option {
	return func(r *Receiver) { r.rand = rnd }
}

// WithPersist replaces the default persistence to Config.Destination.
func WithPersist(f PersistFunc) Option {
	return func(r *Receiver) { r.persist = f }
}

// Result summarises a finished connection.
type Result struct {
	Outcome  telemetry.Outcome
	Counters telemetry.Counters
	Started  time.Time
	Finished time.Time
	Output   []byte
}

// Receiver is the receiving endpoint of a single PTP connection. It is
// single-threaded: every inbound segment is handled to completion before
// the next one is read.
type Receiver struct {
	log     *logging.Logger
	tp      transport.Transport
	conf    Config
	rand    Rand
	sink    telemetry.Sink
	persist PersistFunc

	clock    telemetry.Clock
	mu       sync.Mutex // guards fields below for readers outside Run
	state    State
	buf      *reorderBuffer
	counters telemetry.Counters
}

// New constructs a Receiver reading from tp.
func New(tp transport.Transport, conf Config, opts ...Option) *Receiver {
	r := &Receiver{
		log:  logging.MustGetLogger("receiver"),
		tp:   tp,
		conf: conf,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())), // nolint: gosec
		sink: telemetry.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.persist == nil {
		r.persist = r.persistToDestination
	}
	return r
}

func (r *Receiver) persistToDestination(data []byte) error {
	if r.conf.Destination == "" {
		return nil
	}
	return pathutil.AtomicWriteFile(r.conf.Destination, data)
}

// State returns the current connection state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Counters returns a snapshot of the counters.
func (r *Receiver) Counters() telemetry.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Output returns the Ordered Output committed so far.
func (r *Receiver) Output() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return []byte{}
	}
	return r.buf.output()
}

// Run serves the connection until the sender's FIN is acknowledged and the
// output persisted, the sender resets the connection, the channel fails or
// ctx is cancelled. The transport is closed on return.
func (r *Receiver) Run(ctx context.Context) (*Result, error) {
	if err := r.conf.Validate(); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			r.log.Info("context done, closing transport")
			if err := r.tp.Close(); err != nil {
				r.log.WithError(err).Warn("failed to close transport")
			}
		case <-stop:
		}
	}()

	err := r.serve(ctx)
	if cErr := r.tp.Close(); cErr != nil {
		r.log.WithError(cErr).Warn("failed to close transport")
	}

	res := r.result(err)
	if err != nil {
		r.log.WithError(err).Warn("connection aborted")
	} else {
		r.log.Infof("connection completed: %d bytes received", res.Counters.DataBytes)
	}
	return res, err
}

func (r *Receiver) result(err error) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &Result{
		Outcome:  telemetry.Completed,
		Counters: r.counters,
		Started:  r.clock.StartTime(),
		Finished: time.Now(),
		Output:   []byte{},
	}
	if err != nil {
		res.Outcome = telemetry.Aborted
	}
	if r.buf != nil {
		res.Output = r.buf.output()
	}
	return res
}

func (r *Receiver) serve(ctx context.Context) error {
	for {
		seg, err := r.tp.Recv()
		switch err {
		case nil:
		case segment.ErrMalformedSegment:
			r.log.WithError(err).Warn("discarding datagram")
			continue
		case transport.ErrClosed:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		default:
			return err
		}

		done, err := r.handle(seg)
		if done {
			return err
		}
	}
}

// handle processes one inbound segment and reports whether the connection
// is over.
func (r *Receiver) handle(seg segment.Segment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seg.Type != segment.ResetType && r.lost(r.conf.ForwardLoss) {
		r.record(telemetry.Drp, seg)
		if seg.Type == segment.DataType {
			r.counters.DroppedData++
		}
		return false, nil
	}

	switch seg.Type {
	case segment.SynType:
		r.handleSyn(seg)
	case segment.DataType:
		r.handleData(seg)
	case segment.FinType:
		return r.handleFin(seg)
	case segment.ResetType:
		r.record(telemetry.Rcv, seg)
		r.state = Closed
		return true, ErrPeerReset
	default:
		r.record(telemetry.Rcv, seg)
		r.log.Warnf("ignoring unexpected %s", seg)
	}
	return false, nil
}

func (r *Receiver) handleSyn(seg segment.Segment) {
	ack := seg.Seq.Add(1)
	if r.state == Listen {
		r.clock.Start()
		r.state = Established
		r.buf = newReorderBuffer(ack, r.conf.ChunkSize)
		r.log.Infof("connection established, isn %d", seg.Seq)
	}
	r.record(telemetry.Rcv, seg)
	r.sendAck(ack)
}

func (r *Receiver) handleData(seg segment.Segment) {
	r.record(telemetry.Rcv, seg)
	r.counters.DataSegments++

	if r.state != Established {
		r.log.Debugf("ignoring %s in %s", seg, r.state)
		return
	}

	if r.buf.isCommitted(seg.Seq) || r.buf.isBuffered(seg.Seq) {
		r.counters.DuplicateData++
	} else {
		r.counters.DataBytes += uint64(seg.Len())
		if n := r.buf.insert(seg.Seq, seg.Payload); n > 0 {
			r.log.Debugf("committed %d segment(s), next expected %d", n, r.buf.base)
		}
	}
	r.sendAck(seg.End())
}

func (r *Receiver) handleFin(seg segment.Segment) (bool, error) {
	r.record(telemetry.Rcv, seg)
	if r.state != Established {
		r.log.Debugf("ignoring %s in %s", seg, r.state)
		return false, nil
	}
	if !r.sendAck(seg.Seq.Add(1)) {
		return false, nil
	}

	r.state = Closed
	if pending := r.buf.pending(); pending > 0 {
		r.log.Warnf("%d buffered segment(s) never became contiguous", pending)
	}
	if err := r.persist(r.buf.output()); err != nil {
		return true, errors.Wrap(err, "failed to persist output")
	}
	return true, nil
}

// sendAck emits an ACK subject to reverse loss and reports whether it was
// actually sent.
func (r *Receiver) sendAck(seq seqnum.Value) bool {
	ack := segment.Control(segment.AckType, seq)
	if r.lost(r.conf.ReverseLoss) {
		r.record(telemetry.Drp, ack)
		r.counters.DroppedAcks++
		return false
	}
	r.record(telemetry.Snd, ack)
	if err := r.tp.Send(ack); err != nil {
		r.log.WithError(err).Warnf("failed to send %s", ack)
		return false
	}
	return true
}

func (r *Receiver) lost(p float64) bool {
	return r.rand.Float64() < p
}

func (r *Receiver) record(a telemetry.Action, seg segment.Segment) {
	r.sink.Record(telemetry.Event{
		Action:  a,
		Elapsed: r.clock.Elapsed(),
		Type:    seg.Type,
		Seq:     seg.Seq,
		Size:    seg.Len(),
	})
}
