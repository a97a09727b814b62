// Package transport defines the unreliable datagram channel PTP endpoints
// exchange segments over.
package transport

import (
	"errors"

	"github.com/skycoin/ptp/pkg/segment"
)

var (
	// ErrClosed is returned by operations on a closed Transport.
	ErrClosed = errors.New("transport: closed")

	// ErrChannelUnavailable is returned when the OS reports the peer as
	// unreachable (connection reset or refused).
	ErrChannelUnavailable = errors.New("transport: channel unavailable")
)

// Transport represents the datagram channel between the two endpoints of a
// single logical connection. Segments may be silently lost.
type Transport interface {

	// Send transmits a single segment to the peer.
	Send(seg segment.Segment) error

	// Recv blocks until a segment arrives. A datagram that cannot be decoded
	// results in segment.ErrMalformedSegment; the transport stays usable.
	Recv() (segment.Segment, error)

	// Close implements io.Closer. Blocked Recv calls return ErrClosed.
	Close() error

	// Type returns the string representation of the transport type.
	Type() string
}
