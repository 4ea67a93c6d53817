// Command trials repeats complete sender/receiver runs in one process over a
// lossy in-memory pipe and reports retransmissions and elapsed time.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Clouded-Sabre/go-arq/config"
	"github.com/Clouded-Sabre/go-arq/lib"
)

var (
	configPath string
	trials     int
	streamLen  int
	windowSize int
	timeoutMs  int
	drop       int
	ackDrop    int
	lingerMs   int
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "trials",
	Short: "Repeated in-process ARQ runs over a lossy pipe",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf := config.DefaultConfig()
		if configPath != "" {
			var err error
			if conf, err = config.LoadConfig(configPath); err != nil {
				return err
			}
		}
		// without a file the harness defaults apply, with one only explicit flags override it
		flags := cmd.Flags()
		set := func(name string) bool { return configPath == "" || flags.Changed(name) }
		if set("trials") {
			conf.Trials = trials
		}
		if set("stream") {
			conf.StreamLength = streamLen
		}
		if set("window") {
			conf.WindowSize = windowSize
		}
		if set("timeout") {
			conf.TimeoutMs = timeoutMs
		}
		if set("drop") {
			conf.DropProbability = drop
		}
		if set("linger") {
			conf.LingerMs = lingerMs
		}
		if set("debug") {
			conf.Debug = debug
		}
		if err := conf.Validate(); err != nil {
			return errors.Wrap(err, "invalid configuration")
		}
		if conf.RunMode() == lib.Unreliable {
			return errors.New("trials only runs the acknowledged modes")
		}
		return run(conf)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.Flags().IntVar(&trials, "trials", 10, "number of runs")
	rootCmd.Flags().IntVarP(&streamLen, "stream", "n", 1000, "units per run")
	rootCmd.Flags().IntVarP(&windowSize, "window", "w", lib.DefaultWindowSize, "window size, 1 selects stop-and-wait")
	rootCmd.Flags().IntVarP(&timeoutMs, "timeout", "t", 20, "retransmit timeout in milliseconds")
	rootCmd.Flags().IntVarP(&drop, "drop", "d", 10, "percentage of units the receiver discards")
	rootCmd.Flags().IntVar(&ackDrop, "ack-drop", 0, "percentage of acknowledgments lost on the way back")
	rootCmd.Flags().IntVar(&lingerMs, "linger", 200, "receiver linger in milliseconds")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every unit and acknowledgment")
}

type trialResult struct {
	retransmits int
	elapsed     time.Duration
}

func runTrial(conf *config.Config, logger logrus.FieldLogger) (trialResult, error) {
	// the forward direction is lossless, the receiver's drop policy stands in for it
	senderEnd, receiverEnd := lib.NewMemPipe(0, nil, lib.NewDropPolicy(ackDrop).Func())
	defer senderEnd.Close()

	receiver, err := lib.NewReceiver(receiverEnd, conf.ReceiverConfig(), lib.WithReceiverLogger(logger))
	if err != nil {
		return trialResult{}, err
	}
	sender, err := lib.NewSender(senderEnd, conf.SenderConfig(), lib.WithSenderLogger(logger))
	if err != nil {
		return trialResult{}, err
	}

	recvErr := make(chan error, 1)
	go func() { recvErr <- receiver.Run() }()

	start := time.Now()
	retransmits, err := sender.Run()
	elapsed := time.Since(start)
	if err != nil {
		return trialResult{}, err
	}
	if err := <-recvErr; err != nil {
		return trialResult{}, err
	}
	return trialResult{retransmits: retransmits, elapsed: elapsed}, nil
}

func run(conf *config.Config) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if conf.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	var total trialResult
	for trial := 1; trial <= conf.Trials; trial++ {
		res, err := runTrial(conf, logger)
		if err != nil {
			return errors.Wrapf(err, "trial %d", trial)
		}
		total.retransmits += res.retransmits
		total.elapsed += res.elapsed
		fmt.Printf("trial %d: %d retransmits, %s\n", trial, res.retransmits, res.elapsed)
	}
	fmt.Printf("mode %s, window %d, drop %d%%, ack drop %d%%: average %.1f retransmits, %s over %d trials\n",
		conf.RunMode(), conf.SenderConfig().WindowSize, conf.DropProbability, ackDrop,
		float64(total.retransmits)/float64(conf.Trials), total.elapsed/time.Duration(conf.Trials), conf.Trials)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
