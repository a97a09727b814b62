// Package sender implements the sending endpoint of PTP: handshake, sliding
// window transfer with timeout retransmission, and teardown.
package sender

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/ptp/internal/netutil"
	"github.com/skycoin/ptp/pkg/segment"
	"github.com/skycoin/ptp/pkg/seqnum"
	"github.com/skycoin/ptp/pkg/telemetry"
	"github.com/skycoin/ptp/pkg/transport"
)

var (
	// ErrHandshakeTimeout is returned when the SYN stayed unanswered.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrTeardownTimeout is returned when the FIN stayed unanswered.
	ErrTeardownTimeout = errors.New("teardown timed out")
	// ErrPeerReset is returned when the receiver reset the connection.
	ErrPeerReset = errors.New("connection reset by receiver")
	// ErrNotOpen is returned by Send and Close before Open.
	ErrNotOpen = errors.New("connection not open")
	// ErrAlreadyOpen is returned by a second call to Open.
	ErrAlreadyOpen = errors.New("connection already opened")
)

// State is the connection state of a Sender.
type State int

// Sender states.
const (
	Closed State = iota
	SynSent
	Established
	Closing
	FinWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case Established:
		return "ESTABLISHED"
	case Closing:
		return "CLOSING"
	case FinWait:
		return "FIN_WAIT"
	default:
		return fmt.Sprintf("UNKNOWN:%d", int(s))
	}
}

// Option configures a Sender.
type Option func(s *Sender)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Sender) { s.log = log }
}

// WithSink sets the sink every send and receive is recorded to.
func WithSink(sink telemetry.Sink) Option {
	return func(s *Sender) { s.sink = sink }
}

// WithRand sets the source of the initial sequence number.
func WithRand(r seqnum.Rand) Option {
	return func(s *Sender) { s.rand = r }
}

// Result summarises a finished connection.
type Result struct {
	Outcome  telemetry.Outcome
	ISN      seqnum.Value
	Counters telemetry.Counters
	Started  time.Time
	Finished time.Time
}

type entry struct {
	chunk    *Chunk
	acked    bool
	lastSend time.Time
}

// Sender is the sending endpoint of a single PTP connection.
//
// Besides the goroutines calling Open, Send and Close, a Sender runs a
// listener task for inbound acks and timer tasks for the handshake, data
// retransmission and teardown. All of them share the state below under mu;
// state changes and window slides are broadcast by closing notify.
type Sender struct {
	log  *logging.Logger
	tp   transport.Transport
	conf Config
	rand seqnum.Rand
	sink telemetry.Sink
	data []byte

	clock  telemetry.Clock
	ctx    context.Context // cancelled once the connection is released
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	notify   chan struct{}
	opened   bool
	state    State
	err      error
	isn      seqnum.Value
	finSeq   seqnum.Value
	chunks   []Chunk
	next     int
	window   []*entry
	synAck   chan struct{}
	finAck   chan struct{}
	finSent  bool
	finAcked bool
	counters telemetry.Counters

	dataTimer sync.Once
	release   sync.Once
}

// New constructs a Sender that transfers data over tp.
func New(tp transport.Transport, data []byte, conf Config, opts ...Option) *Sender {
	s := &Sender{
		log:    logging.MustGetLogger("sender"),
		tp:     tp,
		conf:   conf,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())), // nolint: gosec
		sink:   telemetry.Discard,
		data:   data,
		notify: make(chan struct{}),
		synAck: make(chan struct{}),
		finAck: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run transfers the data: Open, Send and Close in sequence.
func (s *Sender) Run(ctx context.Context) (*Result, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	if err := s.Send(ctx); err != nil {
		s.Abort(err)
	}
	err := s.Close(ctx)
	return s.Result(), err
}

// Open picks the initial sequence number, sends SYN and arms the handshake
// timer. It does not wait for the handshake to complete. Cancelling ctx
// aborts the connection.
func (s *Sender) Open(ctx context.Context) error {
	if err := s.conf.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return ErrAlreadyOpen
	}
	s.opened = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.isn = seqnum.Random(s.rand)
	s.chunks = Chunks(s.data, s.isn, s.conf.ChunkSize)
	s.finSeq = s.isn.Add(1 + len(s.data))
	s.log.Infof("opening connection: isn %d, %d bytes in %d chunk(s), window %d",
		s.isn, len(s.data), len(s.chunks), s.conf.Capacity())

	s.clock.Start()
	s.wg.Add(2)
	go s.listen()
	s.sendLocked(segment.Control(segment.SynType, s.isn), false)
	s.setStateLocked(SynSent)
	go s.awaitAck(s.synAck, s.resendSyn, ErrHandshakeTimeout)

	return nil
}

// Send blocks until the handshake completes, then streams every chunk
// through the window. It returns once the last chunk has been sent, or with
// the abort error when the connection closed first.
func (s *Sender) Send(ctx context.Context) error {
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return ErrNotOpen
	}

	if err := s.waitFor(ctx, func() bool { return s.state != SynSent }); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == Closed {
		defer s.mu.Unlock()
		return s.err
	}
	if len(s.chunks) == 0 {
		s.setStateLocked(FinWait)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	capacity := s.conf.Capacity()
	for {
		err := s.waitFor(ctx, func() bool {
			return s.state == Closed || len(s.window) < capacity
		})
		if err != nil {
			return err
		}

		s.mu.Lock()
		if s.state == Closed {
			defer s.mu.Unlock()
			return s.err
		}
		c := &s.chunks[s.next]
		s.next++
		s.window = append(s.window, &entry{chunk: c, lastSend: time.Now()})
		// The data timer may be parked on an empty window.
		s.broadcastLocked()
		s.counters.DataSegments++
		s.counters.DataBytes += uint64(len(c.Payload))
		s.sendLocked(segment.Data(c.Seq, c.Payload), false)
		s.dataTimer.Do(func() {
			s.wg.Add(1)
			go s.retransmit()
		})
		last := s.next == len(s.chunks)
		if last {
			s.setStateLocked(Closing)
		}
		s.mu.Unlock()

		if last {
			return nil
		}
	}
}

// Close blocks until every chunk is acknowledged, tears the connection down
// with FIN and, after the grace period, releases the transport. It returns
// the abort error if the connection did not complete.
func (s *Sender) Close(ctx context.Context) error {
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return ErrNotOpen
	}

	err := s.waitFor(ctx, func() bool { return s.state == FinWait || s.state == Closed })
	if err != nil {
		s.Abort(err)
	}

	s.mu.Lock()
	if s.state == FinWait && !s.finSent {
		s.finSent = true
		s.sendLocked(segment.Control(segment.FinType, s.finSeq), false)
		s.wg.Add(1)
		go s.awaitAck(s.finAck, s.resendFin, ErrTeardownTimeout)
	}
	s.mu.Unlock()

	if err := s.waitFor(ctx, func() bool { return s.state == Closed }); err != nil {
		s.Abort(err)
	}

	s.shutdown(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Abort terminates the connection with err, sending RESET to the peer. It
// is a no-op once the connection is closed.
func (s *Sender) Abort(err error) {
	s.mu.Lock()
	s.abortLocked(err)
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counters returns a snapshot of the counters.
func (s *Sender) Counters() telemetry.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Result summarises the connection so far.
func (s *Sender) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &Result{
		Outcome:  telemetry.Completed,
		ISN:      s.isn,
		Counters: s.counters,
		Started:  s.clock.StartTime(),
		Finished: time.Now(),
	}
	if s.err != nil || !s.finAcked {
		res.Outcome = telemetry.Aborted
	}
	return res
}

func (s *Sender) shutdown(ctx context.Context) {
	s.release.Do(func() {
		if s.conf.GracePeriod > 0 {
			s.log.Debugf("waiting %s for straggling acks", s.conf.GracePeriod)
			select {
			case <-time.After(s.conf.GracePeriod):
			case <-ctx.Done():
			}
		}
		s.cancel()
		if err := s.tp.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close transport")
		}
		s.wg.Wait()
		s.log.Info("connection released")
	})
}

// waitFor blocks until pred, evaluated under mu, holds.
func (s *Sender) waitFor(ctx context.Context, pred func() bool) error {
	for {
		s.mu.Lock()
		if pred() {
			s.mu.Unlock()
			return nil
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sender) broadcastLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Sender) setStateLocked(st State) {
	if s.state != st {
		s.log.Debugf("state %s -> %s", s.state, st)
	}
	s.state = st
	s.broadcastLocked()
}

func (s *Sender) abortLocked(err error) {
	if s.state == Closed {
		return
	}
	s.log.WithError(err).Warnf("aborting connection in %s", s.state)
	if err != ErrPeerReset {
		s.sendLocked(segment.Control(segment.ResetType, 0), false)
	}
	s.err = err
	s.setStateLocked(Closed)
}

func (s *Sender) sendLocked(seg segment.Segment, retransmit bool) {
	s.sink.Record(telemetry.Event{
		Action:     telemetry.Snd,
		Elapsed:    s.clock.Elapsed(),
		Type:       seg.Type,
		Seq:        seg.Seq,
		Size:       seg.Len(),
		Retransmit: retransmit,
	})
	if err := s.tp.Send(seg); err != nil {
		s.log.WithError(err).Warnf("failed to send %s", seg)
	}
}

// awaitAck resends a control segment until answered is closed, aborting
// with timeoutErr once the retry budget is spent.
func (s *Sender) awaitAck(answered <-chan struct{}, resend netutil.RetryFunc, timeoutErr error) {
	defer s.wg.Done()

	err := netutil.NewRetrier(s.conf.RTO, s.conf.MaxRetry).
		WithLogger(s.log).
		Do(s.ctx, answered, resend)
	switch err {
	case nil:
	case netutil.ErrRetriesExhausted:
		s.Abort(timeoutErr)
	default:
		s.Abort(err)
	}
}

func (s *Sender) resendSyn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SynSent {
		s.sendLocked(segment.Control(segment.SynType, s.isn), true)
	}
	return nil
}

func (s *Sender) resendFin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == FinWait {
		s.sendLocked(segment.Control(segment.FinType, s.finSeq), true)
	}
	return nil
}

// retransmit resends the oldest unacknowledged window entry whenever its
// last send is older than the RTO. It runs while data is in flight and is
// woken by every window change.
func (s *Sender) retransmit() {
	defer s.wg.Done()

	timer := time.NewTimer(s.conf.RTO)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.state != Established && s.state != Closing {
			s.mu.Unlock()
			return
		}

		var deadline <-chan time.Time
		if e := s.oldestUnackedLocked(); e != nil {
			wait := s.conf.RTO - time.Since(e.lastSend)
			if wait <= 0 {
				e.lastSend = time.Now()
				s.counters.Retransmitted++
				s.sendLocked(segment.Data(e.chunk.Seq, e.chunk.Payload), true)
				wait = s.conf.RTO
			}
			resetTimer(timer, wait)
			deadline = timer.C
		}
		notify := s.notify
		s.mu.Unlock()

		select {
		case <-deadline:
		case <-notify:
		case <-s.ctx.Done():
			return
		}
	}
}

// resetTimer rearms t to fire after d, discarding a pending expiry.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (s *Sender) oldestUnackedLocked() *entry {
	for _, e := range s.window {
		if !e.acked {
			return e
		}
	}
	return nil
}

func (s *Sender) listen() {
	defer s.wg.Done()

	for {
		seg, err := s.tp.Recv()
		switch err {
		case nil:
			s.handle(seg)
		case segment.ErrMalformedSegment:
			s.log.WithError(err).Warn("discarding datagram")
		case transport.ErrChannelUnavailable:
			// Left to the retransmission timers.
			s.log.WithError(err).Warn("receiver unreachable")
		default:
			if err != transport.ErrClosed {
				s.log.WithError(err).Warn("listener stopped")
			}
			return
		}
	}
}

func (s *Sender) handle(seg segment.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.Record(telemetry.Event{
		Action:  telemetry.Rcv,
		Elapsed: s.clock.Elapsed(),
		Type:    seg.Type,
		Seq:     seg.Seq,
		Size:    seg.Len(),
	})

	switch {
	case seg.Type == segment.ResetType:
		s.abortLocked(ErrPeerReset)
	case s.state == SynSent && seg.Seq == s.isn.Add(1):
		close(s.synAck)
		s.setStateLocked(Established)
	case s.state == FinWait && !s.finAcked && seg.Seq == s.finSeq.Add(1):
		s.finAcked = true
		close(s.finAck)
		s.setStateLocked(Closed)
		s.log.Info("connection closed")
	case s.ackWindowLocked(seg.Seq):
	default:
		s.counters.DuplicateAcks++
	}
}

// ackWindowLocked marks the window entry expecting seq as acknowledged and
// slides the window. It reports false when no unacknowledged entry matched.
func (s *Sender) ackWindowLocked(seq seqnum.Value) bool {
	var matched bool
	for _, e := range s.window {
		if e.chunk.ExpectedAck == seq {
			if e.acked {
				return false
			}
			e.acked = true
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	n := 0
	for n < len(s.window) && s.window[n].acked {
		n++
	}
	if n == 0 {
		return true
	}
	s.window = s.window[n:]

	if len(s.window) == 0 && s.state == Closing {
		s.setStateLocked(FinWait)
	} else {
		s.broadcastLocked()
	}
	return true
}
