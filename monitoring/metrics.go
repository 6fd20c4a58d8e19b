package monitoring

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	freeInventory = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_free_inventory_total",
			Help: "Free seats currently held in the inventory cache",
		},
	)

	inventoryRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_inventory_refreshes_total",
			Help: "Inventory refresh cycles",
		},
		[]string{"status"},
	)

	claimedSeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_claimed_seats_total",
			Help: "Seats claimed from the inventory cache",
		},
	)

	grabs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_grabs_total",
			Help: "Reservation attempts that produced a grab",
		},
		[]string{"mode"},
	)

	logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"status"},
	)

	workerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_worker_cycles_total",
			Help: "Completed worker acquisition cycles",
		},
		[]string{"status"},
	)

	sweptGrabs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_swept_grabs_total",
			Help: "Abandoned grabs removed by the hold sweeper",
		},
	)

	attemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_attempt_duration_seconds",
			Help:    "Duration of one reservation attempt",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

func SetFreeInventory(n int) {
	freeInventory.Set(float64(n))
}

func TrackInventoryRefresh(status string) {
	inventoryRefreshes.WithLabelValues(status).Inc()
}

func TrackClaimedSeats(n int) {
	claimedSeats.Add(float64(n))
}

func TrackGrab(mode string) {
	grabs.WithLabelValues(mode).Inc()
}

func TrackLogin(status string) {
	logins.WithLabelValues(status).Inc()
}

func TrackWorkerCycle(status string) {
	workerCycles.WithLabelValues(status).Inc()
}

func TrackSweptGrabs(n int) {
	sweptGrabs.Add(float64(n))
}

func TrackAttempt(duration time.Duration) {
	attemptDuration.Observe(duration.Seconds())
}

// CollectRuntimeMetrics samples goroutine counts on a fixed cadence. Runs
// for the process lifetime.
func CollectRuntimeMetrics() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			goroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}()
}
