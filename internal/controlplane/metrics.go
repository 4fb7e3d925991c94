package controlplane

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/islo-labs/doubleagent-sub000/internal/idempotency"
	"github.com/islo-labs/doubleagent-sub000/internal/state"
	"github.com/islo-labs/doubleagent-sub000/internal/webhook"
)

// metricsCollector computes Prometheus samples on each scrape rather
// than maintaining counters updated from the request path, since the
// state router, idempotency cache, and webhook engine already hold the
// authoritative numbers.
type metricsCollector struct {
	router   *state.Router
	idemp    *idempotency.Cache
	webhooks *webhook.Engine

	overlayResources  *prometheus.Desc
	idempotencySize   *prometheus.Desc
	webhookDeliveries *prometheus.Desc
}

func newMetricsCollector(router *state.Router, idemp *idempotency.Cache, webhooks *webhook.Engine) *metricsCollector {
	return &metricsCollector{
		router:   router,
		idemp:    idemp,
		webhooks: webhooks,
		overlayResources: prometheus.NewDesc(
			"doubleagent_overlay_resources",
			"Number of resources currently stored in a namespace overlay, by resource type.",
			[]string{"namespace", "resource_type"}, nil,
		),
		idempotencySize: prometheus.NewDesc(
			"doubleagent_idempotency_cache_size",
			"Number of entries currently held in the idempotency cache.",
			nil, nil,
		),
		webhookDeliveries: prometheus.NewDesc(
			"doubleagent_webhook_deliveries",
			"Webhook deliveries recorded in the engine's log, by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.overlayResources
	ch <- c.idempotencySize
	ch <- c.webhookDeliveries
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ns := range c.router.ListNamespaces() {
		for typ, count := range ns.Stats.OverlayCounts {
			ch <- prometheus.MustNewConstMetric(c.overlayResources, prometheus.GaugeValue, float64(count), ns.Namespace, typ)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.idempotencySize, prometheus.GaugeValue, float64(c.idemp.Len()))

	for status, count := range c.webhooks.StatusCounts() {
		ch <- prometheus.MustNewConstMetric(c.webhookDeliveries, prometheus.GaugeValue, float64(count), string(status))
	}
}
