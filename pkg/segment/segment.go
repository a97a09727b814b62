// Package segment implements the PTP wire codec shared by both endpoints.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/skycoin/ptp/pkg/seqnum"
)

const (
	// HeaderLen is the length of the fixed segment header: type(2 bytes), seqno(2 bytes).
	HeaderLen = 4

	// MaxPayload is the payload ceiling of a DATA segment.
	MaxPayload = 1000
)

// ErrMalformedSegment is returned when a datagram is too short to hold a header.
var ErrMalformedSegment = errors.New("malformed segment")

// Type represents the segment type.
type Type uint16

// Segment types.
const (
	DataType  = Type(0)
	AckType   = Type(1)
	SynType   = Type(2)
	FinType   = Type(3)
	ResetType = Type(4)
)

func (t Type) String() string {
	var names = []string{
		DataType:  "DATA",
		AckType:   "ACK",
		SynType:   "SYN",
		FinType:   "FIN",
		ResetType: "RESET",
	}
	if int(t) >= len(names) {
		return fmt.Sprintf("UNKNOWN:%d", t)
	}
	return names[t]
}

// Segment is the PTP data unit.
type Segment struct {
	Type    Type
	Seq     seqnum.Value
	Payload []byte
}

// Data creates a DATA segment.
func Data(seq seqnum.Value, payload []byte) Segment {
	return Segment{Type: DataType, Seq: seq, Payload: payload}
}

// Control creates a payload-less segment (SYN, ACK, FIN or RESET).
func Control(t Type, seq seqnum.Value) Segment {
	return Segment{Type: t, Seq: seq}
}

// Len returns the payload length.
func (s Segment) Len() int { return len(s.Payload) }

// End returns the sequence position right after the segment's payload.
func (s Segment) End() seqnum.Value { return s.Seq.Add(len(s.Payload)) }

// Encode returns the wire representation of the segment.
func (s Segment) Encode() []byte {
	b := make([]byte, HeaderLen+len(s.Payload))
	binary.BigEndian.PutUint16(b[0:2], uint16(s.Type))
	binary.BigEndian.PutUint16(b[2:4], uint16(s.Seq))
	copy(b[HeaderLen:], s.Payload)
	return b
}

// String implements fmt.Stringer
func (s Segment) String() string {
	return fmt.Sprintf("<type:%s><seq:%d><size:%d>", s.Type, s.Seq, len(s.Payload))
}

// Decode parses a datagram. The payload is copied so that b may be reused.
func Decode(b []byte) (Segment, error) {
	if len(b) < HeaderLen {
		return Segment{}, ErrMalformedSegment
	}
	s := Segment{
		Type: Type(binary.BigEndian.Uint16(b[0:2])),
		Seq:  seqnum.Value(binary.BigEndian.Uint16(b[2:4])),
	}
	if len(b) > HeaderLen {
		s.Payload = make([]byte, len(b)-HeaderLen)
		copy(s.Payload, b[HeaderLen:])
	}
	return s, nil
}
