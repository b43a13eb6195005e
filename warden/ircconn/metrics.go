package ircconn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_irc_events_received",
	Help: "Number of IRC events received, by command",
}, []string{"command"})

var connectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_irc_connect_failures",
	Help: "Number of failed connection attempts, by server",
}, []string{"server"})

var connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_irc_connected",
	Help: "1 while the IRC connection is registered",
})

var workItemsAdded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_irc_work_items_added",
	Help: "Number of events queued for handling",
})

var workItemsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_irc_work_items_processed",
	Help: "Number of queued events handled",
})

var workersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_irc_workers_active",
	Help: "Number of event handling workers",
})
