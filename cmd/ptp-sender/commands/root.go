package commands

import (
	"io/ioutil"
	"log"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/ptp/internal/cliutil"
	"github.com/skycoin/ptp/pkg/sender"
	"github.com/skycoin/ptp/pkg/telemetry"
	"github.com/skycoin/ptp/pkg/transport"
	"github.com/skycoin/ptp/pkg/util/pathutil"
)

var logger = logging.MustGetLogger("ptp-sender")

var (
	flags cliutil.Flags
	grace time.Duration
)

type args struct {
	localPort  int
	remotePort int
	source     string
	maxWindow  int
	rto        time.Duration
}

func parseArgs(a []string) (args, error) {
	var (
		res args
		err error
	)
	if res.localPort, err = cliutil.ParsePort("sender_port", a[0]); err != nil {
		return res, err
	}
	if res.remotePort, err = cliutil.ParsePort("receiver_port", a[1]); err != nil {
		return res, err
	}
	res.source = a[2]
	if res.maxWindow, err = cliutil.ParseWindow(a[3]); err != nil {
		return res, err
	}
	res.rto, err = cliutil.ParseMillis(a[4])
	return res, err
}

var rootCmd = &cobra.Command{
	Use:   "ptp-sender sender_port receiver_port source_filename max_window_bytes rto_ms",
	Short: "Sends a file to ptp-receiver over PTP",
	Args:  cobra.ExactArgs(5),
	Run: func(cmd *cobra.Command, rawArgs []string) {
		a, err := parseArgs(rawArgs)
		if err != nil {
			logger.Fatal(err)
		}

		conf := cliutil.DefaultSenderConfig()
		if err := cliutil.LoadConfig(flags.Config, cliutil.SenderConfigEnv, pathutil.SenderDefaults(), &conf); err != nil {
			logger.Fatal(err)
		}
		flags.Apply(cmd.Flags(), &conf.Common)
		if cmd.Flags().Changed("grace") {
			conf.GracePeriod = cliutil.Duration(grace)
		}

		data, err := ioutil.ReadFile(a.source)
		if err != nil {
			logger.Fatalf("Failed to read source file: %s", err)
		}

		env, err := cliutil.Setup(&flags, conf.Common, telemetry.SenderRole)
		if err != nil {
			logger.Fatal(err)
		}
		connLog := env.Log.WithField("conn", env.ID)

		tp, err := transport.DialHost(conf.Host, a.localPort, a.remotePort)
		if err != nil {
			if cErr := env.Close(cliutil.Report{Err: err}); cErr != nil {
				connLog.WithError(cErr).Error("Failed to close")
			}
			connLog.Fatal(err)
		}
		connLog.Infof("sending %s (%d bytes) from %s to %s", a.source, len(data), tp.LocalAddr(), tp.RemoteAddr())

		s := sender.New(tp, data, conf.Engine(a.maxWindow, a.rto),
			sender.WithLogger(env.Log),
			sender.WithSink(env.Sink))
		res, err := s.Run(env.Context())
		if res == nil {
			// Open failed before the connection took ownership of tp.
			if cErr := tp.Close(); cErr != nil {
				connLog.WithError(cErr).Warn("Failed to close transport")
			}
			res = s.Result()
		}

		report := cliutil.Report{
			Started:  res.Started,
			Finished: res.Finished,
			Counters: res.Counters,
			Err:      err,
		}
		if cErr := env.Close(report); cErr != nil {
			connLog.WithError(cErr).Error("Failed to close")
		}
		if err != nil {
			connLog.WithError(err).Fatal("Transfer aborted")
		}
		connLog.Info("Transfer completed")
	},
	Version: cliutil.Version,
}

func init() {
	flags.Register(rootCmd.Flags(), "ptp-sender", cliutil.DefaultSenderConfig().Common)
	rootCmd.Flags().DurationVar(&grace, "grace", sender.DefaultGracePeriod, "time to wait for straggling acks after close")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
