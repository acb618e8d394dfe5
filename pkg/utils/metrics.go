package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialer_active_calls",
		Help: "Call attempts currently tracked in a non-terminal phase",
	})

	CallAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_call_attempts_total",
		Help: "Outbound call attempts by outcome",
	}, []string{"outcome"})

	TextAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_text_attempts_total",
		Help: "Outbound SMS attempts by outcome",
	}, []string{"outcome"})

	ContactUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_contact_updates_total",
		Help: "Contact writes by result (committed or rolled_back)",
	}, []string{"result"})

	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringcentral_requests_total",
		Help: "Requests sent to RingCentral by endpoint and HTTP status class",
	}, []string{"endpoint", "class"})

	FirewallBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewall_blocks_total",
		Help: "Sign-in attempts rejected because the client IP is blocked",
	})
)
