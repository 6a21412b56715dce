// Package metrics registers the sync worker's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync pipeline.
type Metrics struct {
	BatchesProcessed     prometheus.Counter
	BatchesSkipped       prometheus.Counter
	ItemsProcessed       *prometheus.CounterVec
	ItemRetries          prometheus.Counter
	SessionRestarts      prometheus.Counter
	CertificatesRendered prometheus.Counter
	NotificationsSent    *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

// NewForTesting registers on a private registry so parallel tests do not
// collide on metric names.
func NewForTesting() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainsync_batches_processed_total",
			Help: "Total number of upload batches drained from the queue",
		}),
		BatchesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainsync_batches_skipped_total",
			Help: "Total number of batches dropped for malformed payloads",
		}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainsync_items_processed_total",
			Help: "Total records processed, labeled by terminal outcome",
		}, []string{"outcome"}),
		ItemRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainsync_item_retries_total",
			Help: "Total per-item retry attempts after transient registry failures",
		}),
		SessionRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainsync_session_restarts_total",
			Help: "Total registry browser sessions torn down and reopened mid-item",
		}),
		CertificatesRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainsync_certificates_rendered_total",
			Help: "Total certificate images rendered",
		}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainsync_notifications_sent_total",
			Help: "Total batch notifications attempted, labeled by delivery status",
		}, []string{"status"}),
	}
}
