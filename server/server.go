package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Clouded-Sabre/go-arq/config"
	"github.com/Clouded-Sabre/go-arq/lib"
)

var (
	configPath  string
	bindAddr    string
	port        int
	mode        string
	dropPercent int
	streamLen   int
	lingerMs    int
	trials      int
	traceFile   string
	metricsAddr string
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "ARQ receiver: accepts units in order and acknowledges them",
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
	rootCmd.Flags().StringVar(&bindAddr, "bind", "", "address to listen on, empty for all")
	rootCmd.Flags().IntVarP(&port, "port", "p", lib.DefaultPort, "rendezvous port")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "gbn", "gbn, saw or unreliable")
	rootCmd.Flags().IntVarP(&dropPercent, "drop", "d", 0, "percentage of inbound units to discard")
	rootCmd.Flags().IntVarP(&streamLen, "stream", "n", lib.DefaultStreamLength, "number of units expected")
	rootCmd.Flags().IntVar(&lingerMs, "linger", 3000, "keep answering duplicates this long after the last unit, in milliseconds")
	rootCmd.Flags().IntVar(&trials, "trials", 1, "number of back-to-back runs")
	rootCmd.Flags().StringVar(&traceFile, "trace", "", "write a pcap trace of the exchanged datagrams")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus metrics on")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every unit and acknowledgment")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.DefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("bind") {
		conf.BindAddr = bindAddr
	}
	if flags.Changed("port") {
		conf.Port = port
	}
	if flags.Changed("mode") {
		conf.Mode = mode
	}
	if flags.Changed("drop") {
		conf.DropProbability = dropPercent
	}
	if flags.Changed("stream") {
		conf.StreamLength = streamLen
	}
	if flags.Changed("linger") {
		conf.LingerMs = lingerMs
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

	udp, err := lib.ListenUDP(conf.BindAddr, conf.Port, conf.TransportConfig(), logger)
	if err != nil {
		return err
	}
	logger.Infof("Receiver listening on %s", udp.LocalAddr())

	// Handle Ctrl+C signal for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Info("Received SIGINT (Ctrl+C). Shutting down...")
		udp.Close()
	}()
	defer udp.Close()

	var ch lib.Channel = udp
	if conf.TraceFile != "" {
		f, err := os.Create(conf.TraceFile)
		if err != nil {
			return errors.Wrap(err, "creating trace file")
		}
		defer f.Close()
		// the sender is unknown until it shows up
		tracer, err := lib.NewPcapTracer(f, udp.LocalAddr(), &net.UDPAddr{IP: net.IPv4zero})
		if err != nil {
			return err
		}
		ch = lib.NewTracedChannel(ch, tracer, func(err error) {
			logger.WithError(err).Warn("Packet trace failed, continuing without it")
		})
	}

	recorder := lib.NewDummyRecorder()
	if conf.MetricsAddr != "" {
		recorder = lib.NewPrometheusRecorder("arq_receiver", prometheus.DefaultRegisterer)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(conf.MetricsAddr, nil); err != nil {
				logger.Println("Failed to start metrics API:", err)
			}
		}()
	}

	linger := time.Duration(conf.LingerMs) * time.Millisecond
	for trial := 1; trial <= conf.Trials; trial++ {
		start := time.Now()
		if conf.RunMode() == lib.Unreliable {
			report, err := lib.NewUnreliableReceiver(ch, conf.StreamLength, linger, logger, recorder).Run()
			if err != nil {
				return errors.Wrapf(err, "trial %d", trial)
			}
			fmt.Printf("trial %d: received %d of %d units, %d out of order, %d lost\n",
				trial, report.Received, conf.StreamLength, report.OutOfOrder, report.Lost(conf.StreamLength))
		} else {
			receiver, err := lib.NewReceiver(ch, conf.ReceiverConfig(),
				lib.WithReceiverLogger(logger),
				lib.WithReceiverRecorder(recorder),
			)
			if err != nil {
				return err
			}
			if err := receiver.Run(); err != nil {
				return errors.Wrapf(err, "trial %d", trial)
			}
			fmt.Printf("trial %d: mode %s, %d units delivered in order, %s\n",
				trial, conf.RunMode(), receiver.Expected(), time.Since(start))
		}
		udp.ResetPeer()
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
