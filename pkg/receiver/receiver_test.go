package receiver

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
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

// Loss draws for a Receiver configured with 0.5 loss probabilities.
const (
	keep = 0.9
	drop = 0.1
)

// scriptedRand returns the scripted draws in order, then keeps forever.
type scriptedRand struct {
	draws []float64
}

func (s *scriptedRand) Float64() float64 {
	if len(s.draws) == 0 {
		return keep
	}
	v := s.draws[0]
	s.draws = s.draws[1:]
	return v
}

type harness struct {
	r         *Receiver
	peer      *transport.MockTransport
	sink      *telemetry.MemorySink
	persisted [][]byte
}

func newHarness(t *testing.T, flp, rlp float64, draws ...float64) *harness {
	tp, peer := transport.NewMockPair()
	h := &harness{peer: peer, sink: &telemetry.MemorySink{}}

	conf := DefaultConfig()
	conf.ForwardLoss = flp
	conf.ReverseLoss = rlp
	require.NoError(t, conf.Validate())

	h.r = New(tp, conf,
		WithSink(h.sink),
		WithRand(&scriptedRand{draws: draws}),
		WithPersist(func(data []byte) error {
			h.persisted = append(h.persisted, data)
			return nil
		}))
	return h
}

func (h *harness) acks() []seqnum.Value {
	var out []seqnum.Value
	for _, ev := range h.sink.Filter(telemetry.Snd, segment.AckType) {
		out = append(out, ev.Seq)
	}
	return out
}

func (h *harness) handle(t *testing.T, seg segment.Segment) bool {
	done, err := h.r.handle(seg)
	require.NoError(t, err)
	return done
}

func TestReceiver_InOrder(t *testing.T) {
	h := newHarness(t, 0, 0)
	data := testhelpers.Payload(1500, 1)

	assert.False(t, h.handle(t, segment.Control(segment.SynType, 100)))
	assert.Equal(t, Established, h.r.State())
	assert.False(t, h.handle(t, segment.Data(101, data[:1000])))
	assert.False(t, h.handle(t, segment.Data(1101, data[1000:])))
	assert.True(t, h.handle(t, segment.Control(segment.FinType, 1601)))

	assert.Equal(t, []seqnum.Value{101, 1101, 1601, 1602}, h.acks())
	assert.Equal(t, Closed, h.r.State())
	require.Len(t, h.persisted, 1)
	assert.Equal(t, data, h.persisted[0])
	assert.Equal(t, telemetry.Counters{DataBytes: 1500, DataSegments: 2}, h.r.Counters())
}

func TestReceiver_OutOfOrder(t *testing.T) {
	h := newHarness(t, 0.5, 0.5,
		keep, keep, // SYN
		keep, keep, // chunk 2
		keep, drop, // chunk 1, ack lost
		keep, keep, // chunk 1 resent
		keep, keep, // chunk 3
		keep, keep, // FIN
	)
	data := testhelpers.Payload(2500, 2)

	h.handle(t, segment.Control(segment.SynType, 100))

	h.handle(t, segment.Data(1101, data[1000:2000]))
	assert.Empty(t, h.r.Output())

	h.handle(t, segment.Data(101, data[:1000]))
	assert.Equal(t, data[:2000], h.r.Output())

	h.handle(t, segment.Data(101, data[:1000]))
	assert.Equal(t, data[:2000], h.r.Output())

	h.handle(t, segment.Data(2101, data[2000:]))
	assert.Equal(t, data, h.r.Output())

	assert.True(t, h.handle(t, segment.Control(segment.FinType, 2601)))

	assert.Equal(t, []seqnum.Value{101, 2101, 1101, 2601, 2602}, h.acks())
	require.Len(t, h.persisted, 1)
	assert.Equal(t, data, h.persisted[0])
	assert.Equal(t, telemetry.Counters{
		DataBytes:     2500,
		DataSegments:  4,
		DuplicateData: 1,
		DroppedAcks:   1,
	}, h.r.Counters())
	assert.Len(t, h.sink.Filter(telemetry.Drp, segment.AckType), 1)
}

func TestReceiver_Wraparound(t *testing.T) {
	h := newHarness(t, 0, 0)
	data := testhelpers.Payload(3000, 3)

	h.handle(t, segment.Control(segment.SynType, 65000))
	h.handle(t, segment.Data(1465, data[2000:]))
	h.handle(t, segment.Data(65001, data[:1000]))
	h.handle(t, segment.Data(465, data[1000:2000]))
	assert.Equal(t, data, h.r.Output())

	h.handle(t, segment.Data(65001, data[:1000]))
	assert.Equal(t, data, h.r.Output())
	assert.Equal(t, uint64(1), h.r.Counters().DuplicateData)
	assert.Equal(t, uint64(3000), h.r.Counters().DataBytes)

	assert.True(t, h.handle(t, segment.Control(segment.FinType, 2465)))
	assert.Equal(t, []seqnum.Value{65001, 2465, 465, 1465, 465, 2466}, h.acks())
}

func TestReceiver_ForwardLoss(t *testing.T) {
	h := newHarness(t, 0.5, 0.5,
		keep, keep, // SYN
		drop, // DATA
		drop, // FIN
	)

	h.handle(t, segment.Control(segment.SynType, 7))
	assert.False(t, h.handle(t, segment.Data(8, []byte("lost"))))
	assert.False(t, h.handle(t, segment.Control(segment.FinType, 8)))
	assert.Equal(t, Established, h.r.State())

	assert.Equal(t, []seqnum.Value{8}, h.acks())
	assert.Len(t, h.sink.Filter(telemetry.Drp, segment.DataType), 1)
	assert.Len(t, h.sink.Filter(telemetry.Drp, segment.FinType), 1)
	assert.Equal(t, telemetry.Counters{DroppedData: 1}, h.r.Counters())
	assert.Empty(t, h.persisted)
}

func TestReceiver_Reset(t *testing.T) {
	// Every draw would drop, but RESET is never subject to loss.
	h := newHarness(t, 1, 1)

	done, err := h.r.handle(segment.Control(segment.ResetType, 0))
	assert.True(t, done)
	assert.Equal(t, ErrPeerReset, err)
	assert.Equal(t, Closed, h.r.State())
	assert.Len(t, h.sink.Filter(telemetry.Rcv, segment.ResetType), 1)
	assert.Empty(t, h.persisted)
}

func TestReceiver_FinAckLost(t *testing.T) {
	h := newHarness(t, 0.5, 0.5,
		keep, keep, // SYN
		keep, drop, // FIN, ack lost
		keep, keep, // FIN resent
	)

	h.handle(t, segment.Control(segment.SynType, 10))
	assert.False(t, h.handle(t, segment.Control(segment.FinType, 11)))
	assert.Empty(t, h.persisted)
	assert.Equal(t, Established, h.r.State())

	assert.True(t, h.handle(t, segment.Control(segment.FinType, 11)))
	require.Len(t, h.persisted, 1)
	assert.Empty(t, h.persisted[0])
	assert.Equal(t, []seqnum.Value{11, 12}, h.acks())
}

func TestReceiver_SegmentsBeforeHandshake(t *testing.T) {
	h := newHarness(t, 0, 0)

	assert.False(t, h.handle(t, segment.Data(1, []byte("early"))))
	assert.False(t, h.handle(t, segment.Control(segment.FinType, 6)))
	assert.Equal(t, Listen, h.r.State())
	assert.Empty(t, h.acks())
	assert.Empty(t, h.r.Output())

	for _, ev := range h.sink.Events() {
		assert.Equal(t, time.Duration(0), ev.Elapsed)
	}
}

func TestReceiver_DuplicateSyn(t *testing.T) {
	h := newHarness(t, 0, 0)

	h.handle(t, segment.Control(segment.SynType, 500))
	h.handle(t, segment.Data(501, []byte("x")))
	h.handle(t, segment.Control(segment.SynType, 500))
	h.handle(t, segment.Data(502, []byte("y")))

	assert.Equal(t, "xy", string(h.r.Output()))
	assert.Equal(t, []seqnum.Value{501, 502, 501, 503}, h.acks())
}

func TestReceiver_Run(t *testing.T) {
	dir, cleanup := testhelpers.TempDir(t)
	defer cleanup()

	tp, peer := transport.NewMockPair()
	conf := DefaultConfig()
	conf.Destination = filepath.Join(dir, "out.txt")
	r := New(tp, conf)

	type result struct {
		res *Result
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		res, err := r.Run(context.Background())
		resCh <- result{res, err}
	}()

	data := testhelpers.Payload(1200, 4)
	exchange := func(seg segment.Segment, want seqnum.Value) {
		require.NoError(t, peer.Send(seg))
		ack, err := peer.Recv()
		require.NoError(t, err)
		assert.Equal(t, segment.AckType, ack.Type)
		assert.Equal(t, want, ack.Seq)
	}
	exchange(segment.Control(segment.SynType, 42), 43)
	exchange(segment.Data(43, data[:1000]), 1043)
	exchange(segment.Data(1043, data[1000:]), 1243)
	exchange(segment.Control(segment.FinType, 1243), 1244)

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.Equal(t, telemetry.Completed, res.res.Outcome)
		assert.Equal(t, data, res.res.Output)
		assert.False(t, res.res.Started.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not finish")
	}

	written, err := ioutil.ReadFile(conf.Destination)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestReceiver_RunReset(t *testing.T) {
	tp, peer := transport.NewMockPair()
	r := New(tp, DefaultConfig())

	require.NoError(t, peer.Send(segment.Control(segment.SynType, 1)))
	require.NoError(t, peer.Send(segment.Control(segment.ResetType, 0)))

	res, err := r.Run(context.Background())
	assert.Equal(t, ErrPeerReset, err)
	assert.Equal(t, telemetry.Aborted, res.Outcome)
}

func TestReceiver_RunContextCancel(t *testing.T) {
	tp, _ := transport.NewMockPair()
	r := New(tp, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		res, err := r.Run(ctx)
		if res != nil && res.Outcome != telemetry.Aborted {
			t.Errorf("unexpected outcome %s", res.Outcome)
		}
		errCh <- err
	}()

	cancel()
	assert.Equal(t, context.Canceled, testhelpers.WithinTimeout(errCh))
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(c *Config)
		ok   bool
	}{
		{"default", func(c *Config) {}, true},
		{"certain loss", func(c *Config) { c.ForwardLoss, c.ReverseLoss = 1, 1 }, true},
		{"negative flp", func(c *Config) { c.ForwardLoss = -0.1 }, false},
		{"rlp above one", func(c *Config) { c.ReverseLoss = 1.5 }, false},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }, false},
		{"oversized chunk", func(c *Config) { c.ChunkSize = segment.MaxPayload + 1 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mod(&c)
			if tc.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}
