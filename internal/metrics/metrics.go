// Package metrics exposes Prometheus counters/gauges for the control
// plane and the sync-daemon handler, grounded on the pack's closest
// analogue to a long-lived supervised daemon (cuemby-warren's
// pkg/metrics): package-level collectors registered once in init, served
// over GET /metrics by promhttp.Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DevicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lance_devices_total",
			Help: "Total number of devices known to the sync-daemon handler",
		},
	)

	FoldersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lance_folders_total",
			Help: "Total number of folders known to the sync-daemon handler, by sync state",
		},
		[]string{"synced"},
	)

	ConfigSyncState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lance_config_sync_state",
			Help: "config_synced state machine value (0=unsynced_initial, 1=changing, 2=synced)",
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lance_reconciliation_cycles_total",
			Help: "Total number of reload_configuration passes run",
		},
	)

	DeviceDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lance_device_deletions_total",
			Help: "Total number of devices physically removed, by reason",
		},
		[]string{"reason"},
	)

	DaemonHTTPRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lance_daemon_http_retries_total",
			Help: "Total number of sync-daemon HTTP retry attempts",
		},
	)

	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lance_projects_total",
			Help: "Total number of projects this server container has discovered",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DevicesTotal,
		FoldersTotal,
		ConfigSyncState,
		ReconciliationCyclesTotal,
		DeviceDeletionsTotal,
		DaemonHTTPRetriesTotal,
		ProjectsTotal,
	)
}

// Handler exposes the registered collectors as an http.Handler, mounted
// by internal/guibridge at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
