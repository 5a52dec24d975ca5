/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

const (
	namespace = "annserver"
	subsystem = "engine"
)

// Collector holds the server metrics. It reports batch timings for the
// pipelines through BatchComputed.
type Collector struct {
	sessionsActive  prometheus.Gauge
	devicesLeased   prometheus.Gauge
	imagesReceived  prometheus.Counter
	resultsSent     prometheus.Counter
	sessionsStarted *prometheus.CounterVec
	sessionFailures *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
	batchLatency    *prometheus.HistogramVec
}

func NewCollector() *Collector {
	return &Collector{
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_active",
			},
		),
		devicesLeased: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "devices_leased",
			},
		),
		imagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "images_received_total",
			},
		),
		resultsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "results_sent_total",
			},
		),
		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_total",
			},
			[]string{"mode"},
		),
		sessionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "session_failures_total",
			},
			[]string{"kind"},
		),
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batch_size",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"device"},
		),
		batchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batch_seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"device"},
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsActive.Desc()
	ch <- c.devicesLeased.Desc()
	ch <- c.imagesReceived.Desc()
	ch <- c.resultsSent.Desc()
	c.sessionsStarted.Describe(ch)
	c.sessionFailures.Describe(ch)
	c.batchSize.Describe(ch)
	c.batchLatency.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- c.sessionsActive
	ch <- c.devicesLeased
	ch <- c.imagesReceived
	ch <- c.resultsSent
	c.sessionsStarted.Collect(ch)
	c.sessionFailures.Collect(ch)
	c.batchSize.Collect(ch)
	c.batchLatency.Collect(ch)
}

func (c *Collector) SessionStarted(mode string) {
	c.sessionsActive.Inc()
	c.sessionsStarted.WithLabelValues(mode).Inc()
}

// SessionEnded counts a failed session under the kind of err.
func (c *Collector) SessionEnded(err error) {
	c.sessionsActive.Dec()
	if err != nil {
		c.sessionFailures.WithLabelValues(errors.KindOf(err)).Inc()
	}
}

func (c *Collector) DevicesLeased(delta int) {
	c.devicesLeased.Add(float64(delta))
}

func (c *Collector) ImagesReceived(count int) {
	c.imagesReceived.Add(float64(count))
}

func (c *Collector) ResultsSent(count int) {
	c.resultsSent.Add(float64(count))
}

func (c *Collector) BatchComputed(device int, size int, duration time.Duration) {
	label := strconv.Itoa(device)
	c.batchSize.WithLabelValues(label).Observe(float64(size))
	c.batchLatency.WithLabelValues(label).Observe(duration.Seconds())
}
