// Package metrics exposes the broker's prometheus collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleetbroker"

// Collector is a prometheus.Collector shared by the domain services.
// Register it once at startup; tests use it unregistered.
type Collector struct {
	CredentialLookups *prometheus.CounterVec
	RoleAssignments   *prometheus.CounterVec
	Provisions        *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
	ProvisionDuration prometheus.Histogram
	FleetQueries      *prometheus.HistogramVec
}

func NewCollector() *Collector {
	return &Collector{
		CredentialLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_lookups_total",
				Help:      "Credential broker lookups by result (hit, miss).",
			}, []string{"result"},
		),
		RoleAssignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_pool_changes_total",
				Help:      "Trust grants and revocations applied to shared roles.",
			}, []string{"op"},
		),
		Provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Server provisioning attempts by outcome.",
			}, []string{"outcome"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Rollback actions by resource and result.",
			}, []string{"resource", "result"},
		),
		ProvisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Wall time from address allocation to a running, addressed server.",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
			},
		),
		FleetQueries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fleet_query_seconds",
				Help:      "Fan-out fleet query latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.CredentialLookups.Describe(ch)
	c.RoleAssignments.Describe(ch)
	c.Provisions.Describe(ch)
	c.Compensations.Describe(ch)
	c.ProvisionDuration.Describe(ch)
	c.FleetQueries.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.CredentialLookups.Collect(ch)
	c.RoleAssignments.Collect(ch)
	c.Provisions.Collect(ch)
	c.Compensations.Collect(ch)
	c.ProvisionDuration.Collect(ch)
	c.FleetQueries.Collect(ch)
}
