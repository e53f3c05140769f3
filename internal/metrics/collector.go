// Package metrics exposes Prometheus metrics for validation runs, provider
// retries and published cards.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/cardcheck/internal/retry"
	"github.com/dshills/cardcheck/internal/schema"
)

const namespace = "cardcheck"

// Collector holds all metrics for a cardcheck process.
type Collector struct {
	gatherer prometheus.Gatherer

	cardsValidated *prometheus.CounterVec
	violations     *prometheus.CounterVec
	retries        *prometheus.CounterVec
	published      *prometheus.CounterVec
	complianceRate *prometheus.GaugeVec
	overallRate    prometheus.Gauge
}

// NewCollector creates a collector registered with reg. A nil reg gets a
// fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,

		cardsValidated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_validated_total",
			Help:      "Total number of cards validated, by card type and result",
		}, []string{"type", "result"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Total number of shape violations, by kind and severity",
		}, []string{"kind", "severity"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Total number of retried provider calls, by provider and failure kind",
		}, []string{"provider", "kind"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_published_total",
			Help:      "Total number of cards written to Kafka, by topic and result",
		}, []string{"topic", "result"}),
		complianceRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compliance_rate",
			Help:      "Compliance rate of the last report, in percent, by card type",
		}, []string{"type"}),
		overallRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overall_compliance_rate",
			Help:      "Overall compliance rate of the last report, in percent",
		}),
	}
}

// ObserveArray records a batch result for card type ct.
func (c *Collector) ObserveArray(ct schema.CardType, r schema.ArrayResult) {
	c.cardsValidated.WithLabelValues(string(ct), "valid").Add(float64(r.ValidCards))
	c.cardsValidated.WithLabelValues(string(ct), "invalid").Add(float64(r.InvalidCards))
	for _, v := range r.Errors {
		c.violations.WithLabelValues(string(v.Kind), string(v.Severity)).Inc()
	}
	for _, cr := range r.Results {
		for _, v := range cr.Result.Errors {
			c.violations.WithLabelValues(string(v.Kind), string(v.Severity)).Inc()
		}
	}
}

// ObserveRetry records one retried provider call.
func (c *Collector) ObserveRetry(provider string, kind retry.Kind) {
	c.retries.WithLabelValues(provider, string(kind)).Inc()
}

// ObservePublish records n cards written to topic; err marks them failed.
func (c *Collector) ObservePublish(topic string, n int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.published.WithLabelValues(topic, result).Add(float64(n))
}

// ObserveReport sets the compliance gauges from a report.
func (c *Collector) ObserveReport(r schema.ComplianceReport) {
	c.overallRate.Set(r.OverallCompliance.OverallRate)
	for ct, tc := range r.OverallCompliance.TypeCompliance {
		c.complianceRate.WithLabelValues(string(ct)).Set(tc.ComplianceRate)
	}
}

// WriteToTextfile writes every collected metric to path in the text
// exposition format, for node_exporter's textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
