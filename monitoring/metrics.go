package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	tokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Issued tickets by issuance mode",
		},
		[]string{"mode"}, // server, enriched, fallback
	)

	tokenParses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_parse_total",
			Help: "Token parse attempts by dialect and outcome",
		},
		[]string{"dialect", "outcome"},
	)

	checkInAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_attempts_total",
			Help: "Check-in attempts by authoritative result",
		},
		[]string{"result"},
	)

	admittedPerEvent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_admissions_total",
			Help: "Current number of admitted registrations per event",
		},
		[]string{"event_id"},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of store reconciliation calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"outcome"},
	)
)

// Track issuance outcomes
func TrackIssuance(mode string) {
	tokensIssued.WithLabelValues(mode).Inc()
}

// Track parse outcomes
func TrackParse(dialect, outcome string) {
	tokenParses.WithLabelValues(dialect, outcome).Inc()
}

// Track check-in results
func TrackCheckIn(result string) {
	checkInAttempts.WithLabelValues(result).Inc()
}

// Track reconciliation latency
func TrackReconcile(outcome string, duration time.Duration) {
	reconcileDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectAdmissionMetrics(context.Background())
	}
}

func (m *Monitor) collectAdmissionMetrics(ctx context.Context) {
	keys, _ := m.redis.Keys(ctx, "event:checkins:*").Result()
	for _, key := range keys {
		eventID := key[len("event:checkins:"):]
		count, _ := m.redis.SCard(ctx, key).Result()
		admittedPerEvent.WithLabelValues(eventID).Set(float64(count))
	}
}
