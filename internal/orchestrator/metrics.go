package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshchat_streams_active",
		Help: "Number of streams currently being driven by the orchestrator.",
	})

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshchat_stream_duration_seconds",
		Help:    "Wall-clock duration of one drive() call, from worker acquisition to the terminal done event.",
		Buckets: prometheus.DefBuckets,
	})
)
