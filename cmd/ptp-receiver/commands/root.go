package commands

import (
	"log"
	"math/rand"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/ptp/internal/cliutil"
	"github.com/skycoin/ptp/pkg/receiver"
	"github.com/skycoin/ptp/pkg/telemetry"
	"github.com/skycoin/ptp/pkg/transport"
	"github.com/skycoin/ptp/pkg/util/pathutil"
)

var logger = logging.MustGetLogger("ptp-receiver")

var (
	flags cliutil.Flags
	seed  int64
)

type args struct {
	localPort   int
	remotePort  int
	destination string
	flp         float64
	rlp         float64
}

func parseArgs(a []string) (args, error) {
	var (
		res args
		err error
	)
	if res.localPort, err = cliutil.ParsePort("receiver_port", a[0]); err != nil {
		return res, err
	}
	if res.remotePort, err = cliutil.ParsePort("sender_port", a[1]); err != nil {
		return res, err
	}
	res.destination = a[2]
	if res.flp, err = cliutil.ParseProbability("flp", a[3]); err != nil {
		return res, err
	}
	res.rlp, err = cliutil.ParseProbability("rlp", a[4])
	return res, err
}

var rootCmd = &cobra.Command{
	Use:   "ptp-receiver receiver_port sender_port destination_filename flp rlp",
	Short: "Receives a file from ptp-sender over PTP",
	Args:  cobra.ExactArgs(5),
	Run: func(cmd *cobra.Command, rawArgs []string) {
		a, err := parseArgs(rawArgs)
		if err != nil {
			logger.Fatal(err)
		}

		conf := cliutil.DefaultReceiverConfig()
		if err := cliutil.LoadConfig(flags.Config, cliutil.ReceiverConfigEnv, pathutil.ReceiverDefaults(), &conf); err != nil {
			logger.Fatal(err)
		}
		flags.Apply(cmd.Flags(), &conf.Common)
		if cmd.Flags().Changed("seed") {
			conf.Seed = seed
		}
		if conf.Seed == 0 {
			conf.Seed = time.Now().UnixNano()
		}

		env, err := cliutil.Setup(&flags, conf.Common, telemetry.ReceiverRole)
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
		connLog.Infof("listening on %s for %s, flp %v rlp %v seed %d",
			tp.LocalAddr(), tp.RemoteAddr(), a.flp, a.rlp, conf.Seed)

		r := receiver.New(tp, conf.Engine(a.destination, a.flp, a.rlp),
			receiver.WithLogger(env.Log),
			receiver.WithSink(env.Sink),
			receiver.WithRand(rand.New(rand.NewSource(conf.Seed)))) // nolint: gosec
		res, err := r.Run(env.Context())

		report := cliutil.Report{Err: err}
		if res != nil {
			report.Started, report.Finished, report.Counters = res.Started, res.Finished, res.Counters
		} else {
			if cErr := tp.Close(); cErr != nil {
				connLog.WithError(cErr).Warn("Failed to close transport")
			}
			report.Counters = r.Counters()
		}
		if cErr := env.Close(report); cErr != nil {
			connLog.WithError(cErr).Error("Failed to close")
		}
		if err != nil {
			connLog.WithError(err).Fatal("Transfer aborted")
		}
		connLog.Infof("Wrote %s", a.destination)
	},
	Version: cliutil.Version,
}

func init() {
	flags.Register(rootCmd.Flags(), "ptp-receiver", cliutil.DefaultReceiverConfig().Common)
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "seed of the loss generator. 0 seeds from the clock")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
