package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay holds the pipeline metrics. A nil *Relay is valid and records nothing.
type Relay struct {
	processed        *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	stagedInFlight   prometheus.Gauge
}

// NewRelay creates the relay metrics and registers them on reg.
func NewRelay(reg prometheus.Registerer) (*Relay, error) {
	r := &Relay{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagerelay",
			Name:      "images_processed_total",
			Help:      "Total number of image relay requests, labeled by outcome.",
		}, []string{"outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagerelay",
			Name:      "upstream_request_duration_seconds",
			Help:      "Time spent waiting for the analysis service.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		stagedInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagerelay",
			Name:      "staged_files_in_flight",
			Help:      "Number of uploads currently staged and not yet cleaned up.",
		}),
	}

	for _, c := range []prometheus.Collector{r.processed, r.upstreamDuration, r.stagedInFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Outcome counts one finished request. outcome is "success" or an error kind.
func (r *Relay) Outcome(outcome string) {
	if r == nil {
		return
	}
	r.processed.WithLabelValues(outcome).Inc()
}

// Upstream records the latency of one analysis call.
func (r *Relay) Upstream(d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.upstreamDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Staged marks a file as written to the staging area.
func (r *Relay) Staged() {
	if r == nil {
		return
	}
	r.stagedInFlight.Inc()
}

// Cleaned marks a staged file as removed.
func (r *Relay) Cleaned() {
	if r == nil {
		return
	}
	r.stagedInFlight.Dec()
}
