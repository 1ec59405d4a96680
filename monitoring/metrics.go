package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	queueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_waiting_total",
			Help: "Current number of waiting queue entries",
		},
	)

	queueReserved = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_reserved_total",
			Help: "Current number of reserved queue entries",
		},
	)

	activeCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "provider_active_calls",
			Help: "Ongoing calls reported by the voice provider at the last capacity check",
		},
	)

	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total admission decisions by action",
		},
		[]string{"action"},
	)

	promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_promotions_total",
			Help: "Total waiting entries promoted to reserved",
		},
	)

	expiredReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_expired_reservations_total",
			Help: "Total reservations deleted by the expiry sweep",
		},
	)

	queueLeaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_leaves_total",
			Help: "Total explicit leave signals processed",
		},
	)
)

// Monitor polls queue depth out of Redis and exposes operation counters.
// All Track methods are nil-safe so services can run without metrics wired.
type Monitor struct {
	redis       *redis.Client
	waitingKey  string
	reservedKey string
}

func NewMonitor(redisClient *redis.Client, waitingKey, reservedKey string) *Monitor {
	monitor := &Monitor{
		redis:       redisClient,
		waitingKey:  waitingKey,
		reservedKey: reservedKey,
	}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.collectQueueMetrics(ctx)
		cancel()
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	if waiting, err := m.redis.ZCard(ctx, m.waitingKey).Result(); err == nil {
		queueWaiting.Set(float64(waiting))
	}
	if reserved, err := m.redis.ZCard(ctx, m.reservedKey).Result(); err == nil {
		queueReserved.Set(float64(reserved))
	}
}

func (m *Monitor) TrackAdmission(action string) {
	if m == nil {
		return
	}
	admissionDecisions.WithLabelValues(action).Inc()
}

func (m *Monitor) TrackPromotion() {
	if m == nil {
		return
	}
	promotions.Inc()
}

func (m *Monitor) TrackExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	expiredReservations.Add(float64(count))
}

func (m *Monitor) TrackLeave() {
	if m == nil {
		return
	}
	queueLeaves.Inc()
}

func (m *Monitor) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	activeCalls.Set(float64(count))
}
