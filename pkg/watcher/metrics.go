package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_watcher_polls_total",
			Help: "Total number of polls per watcher",
		}, []string{"watcher"})
	pollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_watcher_poll_errors_total",
			Help: "Total number of failed polls per watcher and stage",
		}, []string{"watcher", "stage"})
	handlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_watcher_handler_errors_total",
			Help: "Total number of handler failures per watcher and class",
		}, []string{"watcher", "class"})
	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_watcher_events_processed_total",
			Help: "Total number of events handled successfully",
		}, []string{"watcher"})
	currentHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scai_bridge_watcher_current_height",
			Help: "Latest height reported by the source chain",
		}, []string{"watcher"})
	lastProcessedHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scai_bridge_watcher_last_processed_height",
			Help: "Height up to which events have been delivered",
		}, []string{"watcher"})
)
