// Package metrics exposes the prometheus collectors the orchestrator's
// optional /metrics endpoint serves: decompression throughput and the
// on-disk/in-memory byte-source cache's hit rate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var DecompressRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bundle_decompress_requests_total",
		Help: "Container range-decompress requests, by outcome",
	},
	[]string{"outcome"},
)

var DecompressedBytesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "bundle_decompressed_bytes_total",
		Help: "Bytes produced by the container codec across all chunks decompressed",
	},
)

var CacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bundle_cache_requests_total",
		Help: "Byte-source cache lookups, by hit or miss",
	},
	[]string{"result"},
)

var PipelineItemsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bundle_pipeline_items_total",
		Help: "Asset selector pipeline items, by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

var RemoteHTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bundle_remote_http_requests_total",
		Help: "HTTP requests issued by the HTTP byte source, by method and status",
	},
	[]string{"method", "status"},
)
