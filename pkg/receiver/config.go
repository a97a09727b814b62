package receiver

import (
	"fmt"

	"github.com/skycoin/ptp/pkg/segment"
)

// Config configures a Receiver.
type Config struct {
	ForwardLoss float64 `json:"flp"`         // probability an inbound non-RESET segment is dropped
	ReverseLoss float64 `json:"rlp"`         // probability an outbound ACK is dropped
	ChunkSize   int     `json:"chunk_size"`  // sender's fixed chunk size
	Destination string  `json:"destination"` // file Ordered Output is persisted to on success
}

// DefaultConfig returns a lossless Config.
func DefaultConfig() Config {
	return Config{ChunkSize: segment.MaxPayload}
}

// Validate checks the Config.
func (c Config) Validate() error {
	if c.ForwardLoss < 0 || c.ForwardLoss > 1 {
		return fmt.Errorf("forward loss probability %v out of [0, 1]", c.ForwardLoss)
	}
	if c.ReverseLoss < 0 || c.ReverseLoss > 1 {
		return fmt.Errorf("reverse loss probability %v out of [0, 1]", c.ReverseLoss)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > segment.MaxPayload {
		return fmt.Errorf("chunk size %d out of (0, %d]", c.ChunkSize, segment.MaxPayload)
	}
	return nil
}
