package sender

import (
	"fmt"
	"time"

	"github.com/skycoin/ptp/pkg/segment"
)

// Defaults.
const (
	DefaultMaxRetry    = 3
	DefaultRTO         = time.Second
	DefaultGracePeriod = 5 * time.Second
)

// maxWindowBytes keeps every in-flight position within half of the sequence
// space so acks and duplicate checks stay unambiguous.
const maxWindowBytes = 32 * segment.MaxPayload

// Config configures a Sender.
type Config struct {
	MaxWindow   int           `json:"max_window"` // bytes in flight
	RTO         time.Duration `json:"rto"`
	ChunkSize   int           `json:"chunk_size"`
	MaxRetry    int           `json:"max_retry"`    // SYN and FIN resends before abort
	GracePeriod time.Duration `json:"grace_period"` // wait for straggling acks after close
}

// DefaultConfig returns a Config with a single-segment window.
func DefaultConfig() Config {
	return Config{
		MaxWindow:   segment.MaxPayload,
		RTO:         DefaultRTO,
		ChunkSize:   segment.MaxPayload,
		MaxRetry:    DefaultMaxRetry,
		GracePeriod: DefaultGracePeriod,
	}
}

// Validate checks the Config.
func (c Config) Validate() error {
	if c.MaxWindow < 0 {
		return fmt.Errorf("negative window %d", c.MaxWindow)
	}
	if c.RTO <= 0 {
		return fmt.Errorf("non-positive retransmission timeout %s", c.RTO)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > segment.MaxPayload {
		return fmt.Errorf("chunk size %d out of (0, %d]", c.ChunkSize, segment.MaxPayload)
	}
	if c.MaxRetry < 0 {
		return fmt.Errorf("negative retry count %d", c.MaxRetry)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("negative grace period %s", c.GracePeriod)
	}
	return nil
}

// Capacity returns the number of window entries allowed in flight.
func (c Config) Capacity() int {
	w := c.MaxWindow
	if w > maxWindowBytes {
		w = maxWindowBytes
	}
	if n := w / c.ChunkSize; n > 1 {
		return n
	}
	return 1
}
