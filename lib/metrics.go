package lib

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records protocol events of a run.
type Recorder interface {
	UnitSent()
	Retransmitted(n int)
	TimerExpired()
	AckReceived(stale bool)
	UnitDropped()
	UnitDelivered()
	RunFinished(elapsed time.Duration, retransmits int)
}

type dummyRecorder struct{}

// NewDummyRecorder constructs a recorder that discards everything.
func NewDummyRecorder() Recorder {
	return dummyRecorder{}
}

func (dummyRecorder) UnitSent() {}
func (dummyRecorder) Retransmitted(int) {}
func (dummyRecorder) TimerExpired() {}
func (dummyRecorder) AckReceived(bool) {}
func (dummyRecorder) UnitDropped() {}
func (dummyRecorder) UnitDelivered() {}
func (dummyRecorder) RunFinished(time.Duration, int) {}

type promRecorder struct {
	sent        prometheus.Counter
	retransmits prometheus.Counter
	timeouts    prometheus.Counter
	acks        *prometheus.CounterVec
	dropped     prometheus.Counter
	delivered   prometheus.Counter
	runTime     prometheus.Summary
	runRetrans  prometheus.Histogram
}

// NewPrometheusRecorder registers the metrics of service on reg.
// A nil reg means the default registerer.
func NewPrometheusRecorder(service string, reg prometheus.Registerer) Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &promRecorder{
		sent: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_units_sent_total",
			Help: "Units handed to the transport for the first time",
		}),
		retransmits: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_retransmits_total",
			Help: "Units sent again after a timeout",
		}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_timeouts_total",
			Help: "Retransmit timer expiries",
		}),
		acks: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_acks_total",
			Help: "Acknowledgments received by the sender",
		}, []string{"stale"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_units_dropped_total",
			Help: "Inbound units discarded by the drop policy",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_units_delivered_total",
			Help: "Units accepted in order by the receiver",
		}),
		runTime: f.NewSummary(prometheus.SummaryOpts{
			Name: service + "_run_seconds",
			Help: "Duration of complete runs",
		}),
		runRetrans: f.NewHistogram(prometheus.HistogramOpts{
			Name:    service + "_run_retransmits",
			Help:    "Retransmissions per complete run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (m *promRecorder) UnitSent() { m.sent.Inc() }
func (m *promRecorder) Retransmitted(n int) { m.retransmits.Add(float64(n)) }
func (m *promRecorder) TimerExpired() { m.timeouts.Inc() }
func (m *promRecorder) UnitDropped() { m.dropped.Inc() }
func (m *promRecorder) UnitDelivered() { m.delivered.Inc() }

func (m *promRecorder) AckReceived(stale bool) {
	if stale {
		m.acks.WithLabelValues("true").Inc()
		return
	}
	m.acks.WithLabelValues("false").Inc()
}

func (m *promRecorder) RunFinished(elapsed time.Duration, retransmits int) {
	m.runTime.Observe(elapsed.Seconds())
	m.runRetrans.Observe(float64(retransmits))
}
