package relayer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_relayed_messages_total",
			Help: "Total number of relayed messages per route and outcome",
		}, []string{"route", "outcome"})
	signingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_signing_failures_total",
			Help: "Total number of failed validator signing attempts per signer type",
		}, []string{"signer"})
)
