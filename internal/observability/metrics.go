package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "package_dispatch", Name: "bookings_requested_total", Help: "Total booking requests"})
	OffersSent        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "package_dispatch", Name: "offers_sent_total", Help: "Offer events fanned out to driver sessions"})
	AcceptWins        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "package_dispatch", Name: "accept_wins_total", Help: "Acceptances that won the claim"})
	AcceptConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "package_dispatch", Name: "accept_conflicts_total", Help: "Acceptances that lost the claim race"})
	BookingsExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "package_dispatch", Name: "bookings_expired_total", Help: "Pending bookings expired by the sweeper"})
	LocationsRelayed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "package_dispatch", Name: "locations_relayed_total", Help: "Driver location updates recorded"})
	SessionsLive      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "package_dispatch", Name: "sessions_live", Help: "Live websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "package_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "package_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
