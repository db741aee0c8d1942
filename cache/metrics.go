/*
Copyright 2024 The Planetary Compute authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// CacheEventTypeMiss is the event type for cache misses.
	CacheEventTypeMiss = "cache_miss"
	// CacheEventTypeHit is the event type for cache hits.
	CacheEventTypeHit = "cache_hit"
	// StatusSuccess is the status for successful token mints.
	StatusSuccess = "success"
	// StatusFailure is the status for failed token mints.
	StatusFailure = "failure"
)

// Options configures the behavior of a TokenCache.
type Options func(*cacheOptions)

type cacheOptions struct {
	registerer    prometheus.Registerer
	metricsPrefix string
}

func (o *cacheOptions) apply(opts ...Options) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithMetricsRegisterer registers the cache metrics with the given
// Prometheus registerer. Without this option no metrics are collected.
func WithMetricsRegisterer(r prometheus.Registerer) Options {
	return func(o *cacheOptions) {
		o.registerer = r
	}
}

// WithMetricsPrefix prefixes the cache metric names, e.g. "gateway_".
func WithMetricsPrefix(prefix string) Options {
	return func(o *cacheOptions) {
		o.metricsPrefix = prefix
	}
}

type cacheMetrics struct {
	cacheEventsCounter   *prometheus.CounterVec
	cacheItemsGauge      prometheus.Gauge
	cacheRequestsCounter *prometheus.CounterVec
	cacheEvictionCounter prometheus.Counter
}

func newCacheMetrics(prefix string, reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		cacheEventsCounter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_events_total", prefix),
				Help: "Total number of token cache retrieval events.",
			},
			[]string{"event_type"},
		),
		cacheItemsGauge: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%scached_tokens", prefix),
				Help: "Total number of tokens in the cache.",
			},
		),
		cacheRequestsCounter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_requests_total", prefix),
				Help: "Total number of token mints partitioned by success or failure.",
			},
			[]string{"status"},
		),
		cacheEvictionCounter: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_evictions_total", prefix),
				Help: "Total number of token cache evictions.",
			},
		),
	}
}

func (m *cacheMetrics) incCacheEvents(event string) {
	if m == nil {
		return
	}
	m.cacheEventsCounter.WithLabelValues(event).Inc()
}

func (m *cacheMetrics) incCacheRequests(status string) {
	if m == nil {
		return
	}
	m.cacheRequestsCounter.WithLabelValues(status).Inc()
}

func (m *cacheMetrics) incCacheEvictions() {
	if m == nil {
		return
	}
	m.cacheEvictionCounter.Inc()
}

func (m *cacheMetrics) setCachedItems(value float64) {
	if m == nil {
		return
	}
	m.cacheItemsGauge.Set(value)
}
