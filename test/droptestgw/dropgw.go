// Command droptestgw relays datagrams between an ARQ sender and receiver and
// discards a configurable share of them in each direction. Point the client
// at the gateway and the gateway at the server to exercise loss on both the
// unit and the acknowledgment path.
//
// The gateway serves one client at a time. Once the client side has been
// quiet for --idle it forgets that client, so the next sender can take over.
package main

import (
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Clouded-Sabre/go-arq/lib"
)

var (
	gatewayIP   string
	gatewayPort int
	targetIP    string
	targetPort  int
	forwardDrop int
	reverseDrop int
	seed        int64
	idle        time.Duration
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "droptestgw",
	Short: "Lossy UDP relay between an ARQ sender and receiver",
	RunE: func(*cobra.Command, []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&gatewayIP, "ip", "127.0.0.1", "gateway listen address")
	rootCmd.Flags().IntVar(&gatewayPort, "port", 8901, "gateway listen port")
	rootCmd.Flags().StringVar(&targetIP, "target", "127.0.0.1", "receiver address")
	rootCmd.Flags().IntVar(&targetPort, "target-port", lib.DefaultPort, "receiver port")
	rootCmd.Flags().IntVar(&forwardDrop, "drop", 10, "percentage of units dropped on the way to the receiver")
	rootCmd.Flags().IntVar(&reverseDrop, "ack-drop", 10, "percentage of acknowledgments dropped on the way back")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 seeds from the clock")
	rootCmd.Flags().DurationVar(&idle, "idle", 5*time.Second, "forget the client after this long without traffic from it")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every dropped datagram")
}

// peerBinder is the part of a listening channel that remembers its client.
type peerBinder interface {
	Peer() *net.UDPAddr
	ResetPeer()
}

// idleReset unbinds the client of a listening channel once it stops talking.
type idleReset struct {
	ch       peerBinder
	idle     time.Duration
	lastSeen atomic.Int64 // unix nanoseconds of the last datagram from the client
}

func newIdleReset(ch peerBinder, idle time.Duration, now time.Time) *idleReset {
	r := &idleReset{ch: ch, idle: idle}
	r.seen(now)
	return r
}

func (r *idleReset) seen(now time.Time) {
	r.lastSeen.Store(now.UnixNano())
}

// check resets the peer when it has been quiet for longer than idle and
// reports whether it did.
func (r *idleReset) check(now time.Time) bool {
	if r.ch.Peer() == nil {
		return false
	}
	if now.Sub(time.Unix(0, r.lastSeen.Load())) < r.idle {
		return false
	}
	r.ch.ResetPeer()
	return true
}

func (r *idleReset) watch(done <-chan struct{}, log logrus.FieldLogger) {
	ticker := time.NewTicker(r.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if peer := r.ch.Peer(); peer != nil && r.check(now) {
				log.WithField("peer", peer.String()).Info("Client idle, accepting a new one")
			}
		}
	}
}

func newPolicy(p int, salt int64) *lib.DropPolicy {
	if seed == 0 {
		return lib.NewDropPolicy(p)
	}
	return lib.NewSeededDropPolicy(p, seed+salt)
}

// relay copies datagrams from src to dst until src fails. onReceive, if set,
// sees every datagram read from src.
func relay(src, dst lib.Channel, policy *lib.DropPolicy, log logrus.FieldLogger, onReceive func()) error {
	for {
		b, err := src.Receive()
		if err != nil {
			return err
		}
		if onReceive != nil {
			onReceive()
		}
		if policy.Drop() {
			log.WithField("size", len(b)).Debug("Dropped datagram")
			continue
		}
		if err := dst.Send(b); err != nil {
			if errors.Is(err, lib.ErrNoPeer) {
				continue
			}
			return err
		}
	}
}

func run() error {
	if idle <= 0 {
		return errors.Errorf("idle must be positive, got %s", idle)
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	front, err := lib.ListenUDP(gatewayIP, gatewayPort, nil, logger)
	if err != nil {
		return err
	}
	back, err := lib.DialUDP(targetIP, targetPort, nil, logger)
	if err != nil {
		front.Close()
		return err
	}
	logger.Infof("Gateway %s relaying to %s:%d (drop %d%% forward, %d%% reverse)",
		front.LocalAddr(), targetIP, targetPort, forwardDrop, reverseDrop)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Info("Received SIGINT (Ctrl+C). Shutting down...")
		front.Close()
		back.Close()
	}()

	reset := newIdleReset(front, idle, time.Now())
	done := make(chan struct{})
	defer close(done)
	go reset.watch(done, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := relay(front, back, newPolicy(forwardDrop, 1), logger.WithField("direction", "client-to-server"),
			func() { reset.seen(time.Now()) })
		logger.WithError(err).Info("Forward relay stopped")
		back.Close()
	}()
	go func() {
		defer wg.Done()
		err := relay(back, front, newPolicy(reverseDrop, 2), logger.WithField("direction", "server-to-client"), nil)
		logger.WithError(err).Info("Reverse relay stopped")
		front.Close()
	}()
	wg.Wait()
	logger.Info("Gateway exiting")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
