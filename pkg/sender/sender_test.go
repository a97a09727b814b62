package sender

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/ptp/internal/testhelpers"
	"github.com/skycoin/ptp/pkg/segment"
	"github.com/skycoin/ptp/pkg/seqnum"
	"github.com/skycoin/ptp/pkg/telemetry"
	"github.com/skycoin/ptp/pkg/transport"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

// fixedRand makes the initial sequence number n+1.
type fixedRand int

func (r fixedRand) Intn(int) int { return int(r) }

type replyFunc func(seg segment.Segment) (segment.Segment, bool)

// answer replies to every segment arriving at peer until peer is closed.
func answer(peer *transport.MockTransport, reply replyFunc) {
	go func() {
		for {
			seg, err := peer.Recv()
			if err != nil {
				return
			}
			if r, ok := reply(seg); ok {
				_ = peer.Send(r) // nolint: errcheck
			}
		}
	}()
}

func ackAll(seg segment.Segment) (segment.Segment, bool) {
	switch seg.Type {
	case segment.SynType, segment.FinType:
		return segment.Control(segment.AckType, seg.Seq.Add(1)), true
	case segment.DataType:
		return segment.Control(segment.AckType, seg.End()), true
	default:
		return segment.Segment{}, false
	}
}

func ackExcept(t segment.Type) replyFunc {
	return func(seg segment.Segment) (segment.Segment, bool) {
		if seg.Type == t {
			return segment.Segment{}, false
		}
		return ackAll(seg)
	}
}

func testConfig(rto time.Duration) Config {
	conf := DefaultConfig()
	conf.RTO = rto
	conf.GracePeriod = 10 * time.Millisecond
	return conf
}

func waitUntil(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChunks(t *testing.T) {
	data := testhelpers.Payload(2500, 1)
	chunks := Chunks(data, 65000, 1000)

	require.Len(t, chunks, 3)
	wantSeq := []seqnum.Value{65001, 465, 1465}
	wantAck := []seqnum.Value{465, 1465, 1965}
	for i, c := range chunks {
		assert.Equal(t, i*1000, c.Offset)
		assert.Equal(t, wantSeq[i], c.Seq)
		assert.Equal(t, wantAck[i], c.ExpectedAck)
	}
	assert.Len(t, chunks[2].Payload, 500)

	assert.Empty(t, Chunks(nil, 1, 1000))
	assert.Len(t, Chunks(data[:1000], 1, 1000), 1)
}

func TestConfig_Capacity(t *testing.T) {
	cases := []struct {
		window, chunk, want int
	}{
		{0, 1000, 1},
		{500, 1000, 1},
		{1000, 1000, 1},
		{5000, 1000, 5},
		{5999, 1000, 5},
		{3000, 500, 6},
		{1 << 20, 1000, 32},
	}
	for _, tc := range cases {
		conf := DefaultConfig()
		conf.MaxWindow, conf.ChunkSize = tc.window, tc.chunk
		assert.Equal(t, tc.want, conf.Capacity(), "window %d chunk %d", tc.window, tc.chunk)
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []func(c *Config){
		func(c *Config) { c.MaxWindow = -1 },
		func(c *Config) { c.RTO = 0 },
		func(c *Config) { c.ChunkSize = 0 },
		func(c *Config) { c.ChunkSize = segment.MaxPayload + 1 },
		func(c *Config) { c.MaxRetry = -1 },
		func(c *Config) { c.GracePeriod = -time.Second },
	}
	for i, mod := range bad {
		c := DefaultConfig()
		mod(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}

func TestSender_Transfer(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, ackAll)

	data := testhelpers.Payload(2500, 2)
	sink := &telemetry.MemorySink{}
	conf := testConfig(time.Second)
	conf.MaxWindow = 2000
	s := New(tp, data, conf, WithSink(sink), WithRand(fixedRand(99)))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.Completed, res.Outcome)
	assert.Equal(t, seqnum.Value(100), res.ISN)
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, telemetry.Counters{DataBytes: 2500, DataSegments: 3}, res.Counters)

	var seqs []seqnum.Value
	for _, ev := range sink.Filter(telemetry.Snd, segment.DataType) {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []seqnum.Value{101, 1101, 2101}, seqs)

	fins := sink.Filter(telemetry.Snd, segment.FinType)
	require.Len(t, fins, 1)
	assert.Equal(t, seqnum.Value(2601), fins[0].Seq)
	assert.Empty(t, sink.Filter(telemetry.Snd, segment.ResetType))
}

func TestSender_EmptySource(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, ackAll)

	sink := &telemetry.MemorySink{}
	s := New(tp, nil, testConfig(time.Second), WithSink(sink), WithRand(fixedRand(9)))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.Completed, res.Outcome)
	assert.Empty(t, sink.Filter(telemetry.Snd, segment.DataType))

	fins := sink.Filter(telemetry.Snd, segment.FinType)
	require.Len(t, fins, 1)
	assert.Equal(t, seqnum.Value(11), fins[0].Seq)
}

func TestSender_HandshakeTimeout(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck

	const rto = 20 * time.Millisecond
	sink := &telemetry.MemorySink{}
	s := New(tp, []byte("unsent"), testConfig(rto), WithSink(sink))

	start := time.Now()
	res, err := s.Run(context.Background())
	assert.Equal(t, ErrHandshakeTimeout, err)
	assert.Equal(t, telemetry.Aborted, res.Outcome)
	assert.True(t, time.Since(start) >= (DefaultMaxRetry+1)*rto)

	syns := sink.Filter(telemetry.Snd, segment.SynType)
	require.Len(t, syns, DefaultMaxRetry+1)
	assert.False(t, syns[0].Retransmit)
	for _, ev := range syns[1:] {
		assert.True(t, ev.Retransmit)
		assert.Equal(t, syns[0].Seq, ev.Seq)
	}
	assert.Len(t, sink.Filter(telemetry.Snd, segment.ResetType), 1)
	assert.Empty(t, sink.Filter(telemetry.Snd, segment.DataType))
	assert.Empty(t, sink.Filter(telemetry.Snd, segment.FinType))
}

func TestSender_TeardownTimeout(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, ackExcept(segment.FinType))

	sink := &telemetry.MemorySink{}
	s := New(tp, []byte("payload"), testConfig(20*time.Millisecond), WithSink(sink))

	res, err := s.Run(context.Background())
	assert.Equal(t, ErrTeardownTimeout, err)
	assert.Equal(t, telemetry.Aborted, res.Outcome)
	assert.Len(t, sink.Filter(telemetry.Snd, segment.FinType), DefaultMaxRetry+1)
	assert.Len(t, sink.Filter(telemetry.Snd, segment.ResetType), 1)
}

func TestSender_PeerReset(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, func(seg segment.Segment) (segment.Segment, bool) {
		return segment.Control(segment.ResetType, 0), seg.Type == segment.SynType
	})

	sink := &telemetry.MemorySink{}
	s := New(tp, []byte("payload"), testConfig(time.Second), WithSink(sink))

	_, err := s.Run(context.Background())
	assert.Equal(t, ErrPeerReset, err)
	assert.Empty(t, sink.Filter(telemetry.Snd, segment.ResetType))
	assert.Empty(t, sink.Filter(telemetry.Snd, segment.DataType))
}

func TestSender_Retransmit(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, ackAll)

	// Lose the first transmission of the first chunk.
	var lost bool
	tp.SetFilter(func(seg segment.Segment) bool {
		if seg.Type == segment.DataType && !lost {
			lost = true
			return false
		}
		return true
	})

	data := testhelpers.Payload(3000, 3)
	sink := &telemetry.MemorySink{}
	conf := testConfig(30 * time.Millisecond)
	conf.MaxWindow = 3000
	s := New(tp, data, conf, WithSink(sink), WithRand(fixedRand(0)))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Counters.DataSegments)
	assert.Equal(t, uint64(3000), res.Counters.DataBytes)
	assert.True(t, res.Counters.Retransmitted >= 1)

	var resent []telemetry.Event
	for _, ev := range sink.Filter(telemetry.Snd, segment.DataType) {
		if ev.Retransmit {
			resent = append(resent, ev)
		}
	}
	require.Len(t, resent, int(res.Counters.Retransmitted))
	assert.Equal(t, seqnum.Value(2), resent[0].Seq)
}

func TestSender_RetransmitAfterRefill(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, ackAll)

	// Every chunk enters a window the previous ack left empty, and its
	// first transmission is lost.
	sent := make(map[seqnum.Value]bool)
	tp.SetFilter(func(seg segment.Segment) bool {
		if seg.Type != segment.DataType || sent[seg.Seq] {
			return true
		}
		sent[seg.Seq] = true
		return false
	})

	const chunks = 20
	sink := &telemetry.MemorySink{}
	conf := testConfig(10 * time.Millisecond)
	conf.MaxWindow = conf.ChunkSize
	s := New(tp, testhelpers.Payload(chunks*conf.ChunkSize, 6), conf, WithSink(sink))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, telemetry.Completed, res.Outcome)
	assert.Equal(t, uint64(chunks), res.Counters.DataSegments)
	assert.True(t, res.Counters.Retransmitted >= chunks)

	resent := make(map[seqnum.Value]bool)
	for _, ev := range sink.Filter(telemetry.Snd, segment.DataType) {
		if ev.Retransmit {
			resent[ev.Seq] = true
		}
	}
	assert.Len(t, resent, chunks)
}

func TestResetTimer(t *testing.T) {
	timer := time.NewTimer(time.Millisecond)
	defer timer.Stop()
	time.Sleep(10 * time.Millisecond)

	// The expired, undrained tick must not leak into the new deadline.
	resetTimer(timer, time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stale expiry delivered")
	case <-time.After(20 * time.Millisecond):
	}

	resetTimer(timer, time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSender_WindowBound(t *testing.T) {
	tp, peer := transport.NewMockPair()
	defer peer.Close() // nolint: errcheck
	answer(peer, ackExcept(segment.DataType))

	sink := &telemetry.MemorySink{}
	conf := testConfig(time.Minute)
	conf.MaxWindow = 2000
	s := New(tp, testhelpers.Payload(5000, 4), conf, WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		errCh <- err
	}()

	waitUntil(t, func() bool { return len(sink.Filter(telemetry.Snd, segment.DataType)) == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.Filter(telemetry.Snd, segment.DataType), 2)
	assert.Equal(t, Established, s.State())

	cancel()
	assert.Equal(t, context.Canceled, testhelpers.WithinTimeout(errCh))
	assert.Equal(t, Closed, s.State())
	assert.Len(t, sink.Filter(telemetry.Snd, segment.ResetType), 1)
}

func TestSender_AckProcessing(t *testing.T) {
	tp, _ := transport.NewMockPair()
	data := testhelpers.Payload(2500, 5)
	s := New(tp, data, DefaultConfig())

	// No task is running, so fields are set without holding mu.
	s.isn = 100
	s.state = SynSent
	s.chunks = Chunks(data, s.isn, 1000)
	s.finSeq = 2601

	s.handle(segment.Control(segment.AckType, 7))
	assert.Equal(t, uint64(1), s.counters.DuplicateAcks)
	assert.Equal(t, SynSent, s.state)

	s.handle(segment.Control(segment.AckType, 101))
	assert.Equal(t, Established, s.state)

	s.next = len(s.chunks)
	s.state = Closing
	for i := range s.chunks {
		s.window = append(s.window, &entry{chunk: &s.chunks[i]})
	}

	// An ack for a later chunk does not release earlier ones.
	assert.True(t, s.ackWindowLocked(2101))
	assert.Len(t, s.window, 3)
	assert.False(t, s.ackWindowLocked(2101))
	assert.False(t, s.ackWindowLocked(101))

	assert.True(t, s.ackWindowLocked(1101))
	require.Len(t, s.window, 1)
	assert.Equal(t, seqnum.Value(2101), s.window[0].chunk.Seq)
	assert.Equal(t, Closing, s.state)

	assert.True(t, s.ackWindowLocked(2601))
	assert.Empty(t, s.window)
	assert.Equal(t, FinWait, s.state)
}

func TestSender_NotOpen(t *testing.T) {
	tp, _ := transport.NewMockPair()
	s := New(tp, nil, DefaultConfig())

	assert.Equal(t, ErrNotOpen, s.Send(context.Background()))
	assert.Equal(t, ErrNotOpen, s.Close(context.Background()))
}
