// Package cliutil holds the plumbing shared by the ptp-sender and
// ptp-receiver commands: config files, flags, logging, trace and stats
// output, metrics and signal handling.
package cliutil

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/ptp/pkg/receiver"
	"github.com/skycoin/ptp/pkg/sender"
	"github.com/skycoin/ptp/pkg/telemetry"
	"github.com/skycoin/ptp/pkg/transport"
	"github.com/skycoin/ptp/pkg/util/env"
	"github.com/skycoin/ptp/pkg/util/pathutil"
)

// Version is the version of the ptp commands.
const Version = "0.1.0"

// Environment variables.
const (
	SenderConfigEnv   = "PTP_SENDER_CONFIG"
	ReceiverConfigEnv = "PTP_RECEIVER_CONFIG"
	shutdownEnv       = "PTP_SHUTDOWN_TIMEOUT"
)

const defaultShutdownTimeout = 10 * time.Second

// Duration wraps around time.Duration to allow parsing from and to JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// StoreConfig selects where connection records are kept.
type StoreConfig struct {
	Type     string `json:"type"`
	Location string `json:"location"`
}

// Common holds the options shared by both endpoints.
type Common struct {
	Host            string      `json:"host"`
	LogLevel        string      `json:"log_level"`
	TraceFile       string      `json:"trace_file"`
	Stats           StoreConfig `json:"stats_store"`
	MetricsAddr     string      `json:"metrics_addr"`     // empty disables the Prometheus endpoint
	ShutdownTimeout Duration    `json:"shutdown_timeout"` // time value, examples: 10s, 1m, etc
}

func defaultCommon(traceFile string) Common {
	return Common{
		Host:      transport.DefaultHost,
		LogLevel:  "info",
		TraceFile: traceFile,
		Stats: StoreConfig{
			Type:     telemetry.NoneStore,
			Location: filepath.Join(pathutil.DataDir(), "stats"),
		},
		ShutdownTimeout: Duration(env.Duration(shutdownEnv, defaultShutdownTimeout)),
	}
}

// SenderConfig is the config file of ptp-sender.
type SenderConfig struct {
	Common
	ChunkSize   int      `json:"chunk_size"`
	MaxRetry    int      `json:"max_retry"`
	GracePeriod Duration `json:"grace_period"`
}

// DefaultSenderConfig returns the defaults of ptp-sender.
func DefaultSenderConfig() SenderConfig {
	d := sender.DefaultConfig()
	return SenderConfig{
		Common:      defaultCommon("Sender_log.txt"),
		ChunkSize:   d.ChunkSize,
		MaxRetry:    d.MaxRetry,
		GracePeriod: Duration(d.GracePeriod),
	}
}

// Engine returns the sender.Config for the given window and timeout.
func (c SenderConfig) Engine(maxWindow int, rto time.Duration) sender.Config {
	return sender.Config{
		MaxWindow:   maxWindow,
		RTO:         rto,
		ChunkSize:   c.ChunkSize,
		MaxRetry:    c.MaxRetry,
		GracePeriod: time.Duration(c.GracePeriod),
	}
}

// ReceiverConfig is the config file of ptp-receiver.
type ReceiverConfig struct {
	Common
	ChunkSize int   `json:"chunk_size"`
	Seed      int64 `json:"seed"` // 0 seeds the loss generator from the clock
}

// DefaultReceiverConfig returns the defaults of ptp-receiver.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Common:    defaultCommon("Receiver_log.txt"),
		ChunkSize: receiver.DefaultConfig().ChunkSize,
	}
}

// Engine returns the receiver.Config for the given destination and loss
// probabilities.
func (c ReceiverConfig) Engine(dest string, flp, rlp float64) receiver.Config {
	return receiver.Config{
		ForwardLoss: flp,
		ReverseLoss: rlp,
		ChunkSize:   c.ChunkSize,
		Destination: dest,
	}
}

// LoadConfig decodes the config file found by pathutil.FindConfigPath into
// conf. conf is left untouched when no config file exists.
func LoadConfig(explicit, envName string, defaults pathutil.ConfigPaths, conf interface{}) error {
	path, ok := pathutil.FindConfigPath(explicit, envName, defaults)
	if !ok {
		return nil
	}
	return errors.Wrapf(pathutil.ReadJSONConfig(path, conf), "failed to read config %s", path)
}
