/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Juice-Labs/annserver/pkg/server"
)

// NewRegistry returns a registry holding collector along with the process
// and Go runtime metrics.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return registry
}

func InitializeEndpoints(server *server.Server, registry *prometheus.Registry) {
	server.AddEndpointHandler("GET", "/v1/prometheus/metrics",
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
