package telemetry

import (
	"fmt"
	"io"
)

// Role is the endpoint role a set of counters belongs to.
type Role string

// Roles.
const (
	SenderRole   = Role("sender")
	ReceiverRole = Role("receiver")
)

// Counters are the per-connection tallies of an endpoint.
// A sender fills DataBytes, DataSegments, Retransmitted and DuplicateAcks;
// a receiver fills DataBytes, DataSegments, DuplicateData, DroppedData and DroppedAcks.
type Counters struct {
	DataBytes     uint64 `json:"data_bytes"`    // original payload bytes sent or received
	DataSegments  uint64 `json:"data_segments"` // data segments sent (first transmissions) or received
	Retransmitted uint64 `json:"retransmitted"`
	DuplicateData uint64 `json:"duplicate_data"`
	DuplicateAcks uint64 `json:"duplicate_acks"`
	DroppedData   uint64 `json:"dropped_data"`
	DroppedAcks   uint64 `json:"dropped_acks"`
}

// WriteSummary writes the end-of-connection summary for the given role.
func (c Counters) WriteSummary(w io.Writer, role Role) error {
	var lines []string
	switch role {
	case SenderRole:
		lines = []string{
			fmt.Sprintf("Amount of (original) Data Transferred (in bytes): %d", c.DataBytes),
			fmt.Sprintf("Number of Data Segments Sent (excluding retransmissions): %d", c.DataSegments),
			fmt.Sprintf("Number of Retransmitted Data Segments: %d", c.Retransmitted),
			fmt.Sprintf("Number of Duplicate Acknowledgements received: %d", c.DuplicateAcks),
		}
	case ReceiverRole:
		lines = []string{
			fmt.Sprintf("Amount of (original) Data Received (in bytes): %d", c.DataBytes),
			fmt.Sprintf("Number of Data Segments Received: %d", c.DataSegments),
			fmt.Sprintf("Number of duplicate Data segments received: %d", c.DuplicateData),
			fmt.Sprintf("Number of Data segments dropped: %d", c.DroppedData),
			fmt.Sprintf("Number of ACK segments dropped: %d", c.DroppedAcks),
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}
