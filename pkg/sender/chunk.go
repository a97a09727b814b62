package sender

import (
	"github.com/skycoin/ptp/pkg/seqnum"
)

// Chunk is a slice of the source file bound to its position in the
// sequence space.
type Chunk struct {
	Offset      int
	Seq         seqnum.Value
	Payload     []byte
	ExpectedAck seqnum.Value
}

// Chunks partitions data into chunks of at most size bytes. The first chunk
// starts right after isn.
func Chunks(data []byte, isn seqnum.Value, size int) []Chunk {
	chunks := make([]Chunk, 0, (len(data)+size-1)/size)
	seq := isn.Add(1)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		c := Chunk{
			Offset:      off,
			Seq:         seq,
			Payload:     data[off:end],
			ExpectedAck: seq.Add(end - off),
		}
		chunks = append(chunks, c)
		seq = c.ExpectedAck
	}
	return chunks
}
