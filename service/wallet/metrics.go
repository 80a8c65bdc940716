package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcvault",
		Name:      "sends_total",
		Help:      "Transactions handed to the wallet for sending, by outcome.",
	}, []string{"status"})

	policyDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcvault",
		Name:      "policy_denials_total",
		Help:      "Sends stopped by the policy gate.",
	}, []string{"reason"})
)
