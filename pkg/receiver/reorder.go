package receiver

import (
	"github.com/skycoin/ptp/pkg/seqnum"
)

// reorderBuffer holds data that arrived ahead of the next expected byte and
// the Ordered Output committed so far. Slot i holds the chunk starting
// i*chunkSize bytes after base; nil slots are holes.
type reorderBuffer struct {
	chunkSize int
	base      seqnum.Value // start_window_seq: position after the last committed byte
	slots     [][]byte
	committed [][]byte
	size      int
}

func newReorderBuffer(base seqnum.Value, chunkSize int) *reorderBuffer {
	return &reorderBuffer{chunkSize: chunkSize, base: base}
}

func (b *reorderBuffer) index(seq seqnum.Value) int {
	return int(seqnum.Distance(b.base, seq)) / b.chunkSize
}

// isCommitted reports whether seq lies before base, i.e. its payload already
// went to Ordered Output.
func (b *reorderBuffer) isCommitted(seq seqnum.Value) bool {
	return seq.LessThan(b.base)
}

// isBuffered reports whether the slot for seq is already occupied.
func (b *reorderBuffer) isBuffered(seq seqnum.Value) bool {
	i := b.index(seq)
	return i < len(b.slots) && b.slots[i] != nil
}

// insert stores payload in its slot and, when it filled slot 0, drains the
// contiguous occupied prefix into Ordered Output. It returns the number of
// payloads committed.
func (b *reorderBuffer) insert(seq seqnum.Value, payload []byte) int {
	i := b.index(seq)
	if i >= len(b.slots) {
		b.slots = append(b.slots, make([][]byte, i+1-len(b.slots))...)
	}
	b.slots[i] = payload
	if i != 0 {
		return 0
	}

	n := 0
	for len(b.slots) > 0 && b.slots[0] != nil {
		p := b.slots[0]
		b.committed = append(b.committed, p)
		b.size += len(p)
		b.base = b.base.Add(len(p))
		b.slots[0] = nil
		b.slots = b.slots[1:]
		n++
	}
	return n
}

// output returns the concatenation of committed payloads in commit order.
func (b *reorderBuffer) output() []byte {
	out := make([]byte, 0, b.size)
	for _, p := range b.committed {
		out = append(out, p...)
	}
	return out
}

// pending returns the number of occupied slots awaiting commit.
func (b *reorderBuffer) pending() int {
	n := 0
	for _, s := range b.slots {
		if s != nil {
			n++
		}
	}
	return n
}
