package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the merger exports.
type Registry struct {
	reg *prometheus.Registry

	FeedMessages     *prometheus.CounterVec
	FeedDecodeErrors *prometheus.CounterVec
	FeedReconnects   *prometheus.CounterVec
	FeedConnected    *prometheus.GaugeVec

	Merges        prometheus.Counter
	Spread        prometheus.Gauge
	SpreadPresent prometheus.Gauge
	BookLevels    *prometheus.GaugeVec
	Subscribers   prometheus.Counter

	BroadcastPublished prometheus.Counter
	BroadcastFailures  prometheus.Counter
}

// New builds a Registry on a private prometheus registry so that tests can
// create as many as they like.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		FeedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merger_feed_messages_total",
				Help: "Depth messages decoded per exchange",
			},
			[]string{"exchange"},
		),
		FeedDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merger_feed_decode_errors_total",
				Help: "Frames dropped because they did not decode into a depth snapshot",
			},
			[]string{"exchange"},
		),
		FeedReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merger_feed_reconnects_total",
				Help: "Connection attempts after a failed or closed session",
			},
			[]string{"exchange"},
		),
		FeedConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "merger_feed_connected",
				Help: "1 while the exchange session is streaming",
			},
			[]string{"exchange"},
		),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merger_merges_total",
			Help: "Merged books published to shared state",
		}),
		Spread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "merger_spread",
			Help: "Spread of the latest merged book, 0 while either side is empty",
		}),
		SpreadPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "merger_spread_present",
			Help: "1 while the latest merged book has both sides",
		}),
		BookLevels: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "merger_book_levels",
				Help: "Levels in the latest merged book",
			},
			[]string{"side"},
		),
		Subscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merger_book_summaries_served_total",
			Help: "BookSummary subscriptions served",
		}),
		BroadcastPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merger_broadcast_published_total",
			Help: "Summaries acknowledged by the broadcast sink",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merger_broadcast_failures_total",
			Help: "Summaries the broadcast sink rejected",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.FeedMessages,
		r.FeedDecodeErrors,
		r.FeedReconnects,
		r.FeedConnected,
		r.Merges,
		r.Spread,
		r.SpreadPresent,
		r.BookLevels,
		r.Subscribers,
		r.BroadcastPublished,
		r.BroadcastFailures,
	)
	return r
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
