package cliutil

import (
	"context"
	"fmt"
	"log/syslog"
	"net/http"
	_ "net/http/pprof" // nolint: gosec
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/ptp/internal/metrics"
	"github.com/skycoin/ptp/pkg/telemetry"
)

// Env is the runtime a command runs its endpoint in.
type Env struct {
	ID   uuid.UUID
	Log  *logging.Logger
	Sink telemetry.Sink

	role      telemetry.Role
	ctx       context.Context
	cancel    context.CancelFunc
	store     telemetry.Store
	trace     *telemetry.TraceSink
	traceFile *os.File
	stopProf  func()
	closed    chan struct{}
}

// Setup configures logging, profiling, the trace file, metrics and the
// stats store of an endpoint playing role.
func Setup(f *Flags, c Common, role telemetry.Role) (*Env, error) {
	lvl, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	logging.SetLevel(lvl)

	e := &Env{
		ID:       uuid.New(),
		Log:      logging.MustGetLogger(f.Tag),
		role:     role,
		stopProf: func() {},
		closed:   make(chan struct{}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if f.SyslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", f.SyslogAddr, syslog.LOG_INFO, f.Tag)
		if err != nil {
			e.Log.Error("Unable to connect to syslog daemon:", err)
		} else {
			logging.AddHook(hook)
		}
	}

	if err := e.startProfiler(f); err != nil {
		return nil, err
	}

	if e.traceFile, err = os.Create(c.TraceFile); err != nil {
		e.stopProf()
		return nil, errors.Wrap(err, "failed to create trace file")
	}
	e.trace = telemetry.NewTraceSink(e.traceFile)

	rec := metrics.NewDummy()
	if c.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if rec, err = metrics.NewPrometheus(fmt.Sprintf("ptp_%s", role), reg); err != nil {
			e.release()
			return nil, errors.Wrap(err, "failed to register metrics")
		}
		go func() {
			if err := metrics.Serve(e.ctx, c.MetricsAddr, reg); err != nil && err != http.ErrServerClosed {
				e.Log.WithError(err).Error("metrics server stopped")
			}
		}()
		e.Log.Infof("serving metrics on %s", c.MetricsAddr)
	}
	e.Sink = telemetry.MultiSink(e.trace, telemetry.LogSink(e.Log), rec)

	if e.store, err = telemetry.NewStore(c.Stats.Type, c.Stats.Location); err != nil {
		e.release()
		return nil, errors.Wrap(err, "failed to open stats store")
	}

	e.watchSignals(time.Duration(c.ShutdownTimeout))
	return e, nil
}

// Context is cancelled on SIGINT, SIGTERM or SIGQUIT and by Close.
func (e *Env) Context() context.Context { return e.ctx }

func (e *Env) startProfiler(f *Flags) error {
	var option func(*profile.Profile)
	switch f.ProfileMode {
	case "none":
		return nil
	case "http":
		go func() {
			e.Log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%v", f.ProfilePort), nil))
		}()
		return nil
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfile
	case "mutex":
		option = profile.MutexProfile
	case "block":
		option = profile.BlockProfile
	case "trace":
		option = profile.TraceProfile
	default:
		return fmt.Errorf("invalid profiling mode %q", f.ProfileMode)
	}
	e.stopProf = profile.Start(profile.ProfilePath("./logs/"+f.Tag), option).Stop
	return nil
}

// watchSignals cancels the context on the first signal. A second signal,
// or the endpoint outliving the shutdown timeout, terminates the process.
func (e *Env) watchSignals(timeout time.Duration) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
	go func() {
		defer signal.Stop(ch)
		select {
		case s := <-ch:
			e.Log.Infof("Received signal %s: shutting down", s)
			e.cancel()
		case <-e.closed:
			return
		}
		select {
		case <-time.After(timeout):
			e.Log.Fatal("Timeout reached: terminating")
		case s := <-ch:
			e.Log.Fatalf("Received signal %s: terminating", s)
		case <-e.closed:
		}
	}()
}

// Report describes a finished connection.
type Report struct {
	Started  time.Time
	Finished time.Time
	Counters telemetry.Counters
	Err      error
}

// Close appends the summary to the trace file, stores the connection record
// and releases everything Setup acquired.
func (e *Env) Close(r Report) error {
	defer close(e.closed)

	entry := &telemetry.Entry{
		ID:       e.ID,
		Role:     e.role,
		Outcome:  telemetry.Completed,
		Started:  r.Started,
		Finished: r.Finished,
		Counters: r.Counters,
	}
	if r.Err != nil {
		entry.Outcome = telemetry.Aborted
		entry.Error = r.Err.Error()
	}

	var errs []error
	if err := r.Counters.WriteSummary(e.traceFile, e.role); err != nil {
		errs = append(errs, errors.Wrap(err, "failed to write summary"))
	}
	if err := e.trace.Err(); err != nil {
		errs = append(errs, errors.Wrap(err, "failed to write trace"))
	}
	if e.store != nil {
		if err := e.store.Record(e.ID, entry); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to record connection"))
		}
	}
	e.Log.WithField("conn", e.ID).
		WithField("outcome", entry.Outcome).
		Infof("%+v", r.Counters)

	errs = append(errs, e.release()...)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (e *Env) release() []error {
	var errs []error
	e.cancel()
	e.stopProf()
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close stats store"))
		}
	}
	if e.traceFile != nil {
		if err := e.traceFile.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close trace file"))
		}
	}
	return errs
}
