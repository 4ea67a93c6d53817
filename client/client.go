package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Clouded-Sabre/go-arq/config"
	"github.com/Clouded-Sabre/go-arq/lib"
	"github.com/Clouded-Sabre/go-arq/shared"
)

var (
	configPath  string
	serverAddr  string
	serverPort  int
	mode        string
	windowSize  int
	streamLen   int
	timeoutMs   int
	trials      int
	traceFile   string
	metricsAddr string
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "ARQ sender: streams sequence-numbered units to the receiver",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(conf)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&serverAddr, "addr", "127.0.0.1", "receiver address")
	rootCmd.Flags().IntVarP(&serverPort, "port", "p", lib.DefaultPort, "receiver port")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "gbn", "gbn, saw or unreliable")
	rootCmd.Flags().IntVarP(&windowSize, "window", "w", lib.DefaultWindowSize, "window size, 1 selects stop-and-wait")
	rootCmd.Flags().IntVarP(&streamLen, "stream", "n", lib.DefaultStreamLength, "number of units to send")
	rootCmd.Flags().IntVarP(&timeoutMs, "timeout", "t", int(lib.DefaultTimeout/time.Millisecond), "retransmit timeout in milliseconds")
	rootCmd.Flags().IntVar(&trials, "trials", 1, "number of back-to-back runs")
	rootCmd.Flags().StringVar(&traceFile, "trace", "", "write a pcap trace of the exchanged datagrams")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus metrics on")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every unit and acknowledgment")
}

// loadConfig reads the optional file and lets explicitly set flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.DefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		conf.ServerAddr = serverAddr
	}
	if flags.Changed("port") {
		conf.Port = serverPort
	}
	if flags.Changed("mode") {
		conf.Mode = mode
	}
	if flags.Changed("window") {
		conf.WindowSize = windowSize
	}
	if flags.Changed("stream") {
		conf.StreamLength = streamLen
	}
	if flags.Changed("timeout") {
		conf.TimeoutMs = timeoutMs
	}
	if flags.Changed("trials") {
		conf.Trials = trials
	}
	if flags.Changed("trace") {
		conf.TraceFile = traceFile
	}
	if flags.Changed("metrics") {
		conf.MetricsAddr = metricsAddr
	}
	if flags.Changed("debug") {
		conf.Debug = debug
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return conf, nil
}

func run(conf *config.Config) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if conf.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	udp, err := lib.DialUDP(conf.ServerAddr, conf.Port, conf.TransportConfig(), logger)
	if err != nil {
		return err
	}
	defer udp.Close()
	logger.Infof("Sending to %s:%d from %s", conf.ServerAddr, conf.Port, udp.LocalAddr())

	var ch lib.Channel = udp
	if conf.TraceFile != "" {
		f, err := os.Create(conf.TraceFile)
		if err != nil {
			return errors.Wrap(err, "creating trace file")
		}
		defer f.Close()
		remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(conf.ServerAddr, strconv.Itoa(conf.Port)))
		if err != nil {
			return errors.Wrap(err, "resolving trace peer")
		}
		tracer, err := lib.NewPcapTracer(f, udp.LocalAddr(), remote)
		if err != nil {
			return err
		}
		ch = lib.NewTracedChannel(ch, tracer, func(err error) {
			logger.WithError(err).Warn("Packet trace failed, continuing without it")
		})
	}

	recorder := lib.NewDummyRecorder()
	if conf.MetricsAddr != "" {
		recorder = lib.NewPrometheusRecorder("arq_sender", prometheus.DefaultRegisterer)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(conf.MetricsAddr, nil); err != nil {
				logger.Println("Failed to start metrics API:", err)
			}
		}()
	}

	var (
		totalRetransmits int
		totalElapsed     time.Duration
	)
	for trial := 1; trial <= conf.Trials; trial++ {
		if n, err := lib.Drain(ch); err != nil {
			return err
		} else if n > 0 {
			logger.WithField("count", n).Debug("Discarded stale datagrams before trial")
		}

		start := time.Now()
		retransmits := 0
		if conf.RunMode() == lib.Unreliable {
			err = lib.NewUnreliableSender(ch, conf.StreamLength, shared.MaxDatagramSize, logger, recorder).Run()
		} else {
			var sender *lib.Sender
			sender, err = lib.NewSender(ch, conf.SenderConfig(),
				lib.WithSenderLogger(logger),
				lib.WithSenderRecorder(recorder),
			)
			if err != nil {
				return err
			}
			retransmits, err = sender.Run()
		}
		if err != nil {
			return errors.Wrapf(err, "trial %d", trial)
		}
		elapsed := time.Since(start)
		totalRetransmits += retransmits
		totalElapsed += elapsed
		fmt.Printf("trial %d: mode %s, %d units, %d retransmits, %s\n",
			trial, conf.RunMode(), conf.StreamLength, retransmits, elapsed)
	}

	if conf.Trials > 1 {
		fmt.Printf("average over %d trials: %.1f retransmits, %s\n", conf.Trials,
			float64(totalRetransmits)/float64(conf.Trials), totalElapsed/time.Duration(conf.Trials))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
