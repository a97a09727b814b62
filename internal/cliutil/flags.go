package cliutil

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/skycoin/ptp/pkg/telemetry"
)

// Profiling modes accepted by --pprof.
var profileModes = []string{"none", "cpu", "mem", "mutex", "block", "trace", "http"}

// Flags are the command line options shared by both commands. The ones
// mirroring Common override the config file when given.
type Flags struct {
	Config      string
	Tag         string
	SyslogAddr  string
	ProfileMode string
	ProfilePort string

	common Common
}

// Register adds the flags to fs with defaults taken from c.
func (f *Flags) Register(fs *pflag.FlagSet, tag string, c Common) {
	fs.StringVarP(&f.Config, "config", "c", "", "path of an optional JSON config file")
	fs.StringVar(&f.Tag, "tag", tag, "logging tag")
	fs.StringVar(&f.SyslogAddr, "syslog", "none", "syslog server address. E.g. localhost:514")
	fs.StringVarP(&f.ProfileMode, "pprof", "p", "none", fmt.Sprintf("enable profiling with pprof. Mode: one of %v", profileModes))
	fs.StringVar(&f.ProfilePort, "pport", "6060", "port for http-mode of pprof")

	fs.StringVar(&f.common.Host, "host", c.Host, "address both endpoints bind and send to")
	fs.StringVar(&f.common.LogLevel, "log-level", c.LogLevel, "level of the diagnostic log")
	fs.StringVar(&f.common.TraceFile, "log-file", c.TraceFile, "file the per-segment trace and summary are written to")
	fs.StringVar(&f.common.Stats.Type, "stats-store", c.Stats.Type, fmt.Sprintf("where connection records are kept. One of [%s, %s, %s, %s]",
		telemetry.NoneStore, telemetry.MemoryStore, telemetry.FileStore, telemetry.BoltStore))
	fs.StringVar(&f.common.Stats.Location, "stats-path", c.Stats.Location, "directory or database file of the stats store")
	fs.StringVar(&f.common.MetricsAddr, "metrics-addr", c.MetricsAddr, "address to serve Prometheus metrics on. Disabled when empty")
}

// Apply overrides c with every shared flag set on the command line.
func (f *Flags) Apply(fs *pflag.FlagSet, c *Common) {
	overrides := map[string]func(){
		"host":         func() { c.Host = f.common.Host },
		"log-level":    func() { c.LogLevel = f.common.LogLevel },
		"log-file":     func() { c.TraceFile = f.common.TraceFile },
		"stats-store":  func() { c.Stats.Type = f.common.Stats.Type },
		"stats-path":   func() { c.Stats.Location = f.common.Stats.Location },
		"metrics-addr": func() { c.MetricsAddr = f.common.MetricsAddr },
	}
	fs.Visit(func(fl *pflag.Flag) {
		if override, ok := overrides[fl.Name]; ok {
			override()
		}
	})
}
