package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery result labels for metricDeliveries.
const (
	deliveryDelivered = "delivered"
	deliveryOffline   = "offline"
	deliveryDropped   = "dropped"
)

var (
	metricConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Number of live websocket connections.",
	})

	metricMessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_persisted_total",
		Help: "Messages durably appended to the history store.",
	})

	metricStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_store_errors_total",
		Help: "History store read/write failures.",
	})

	metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Per-target delivery outcomes after successful persistence.",
	}, []string{"result"})
)
