package invite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invitesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "invite",
		Name:      "created_total",
		Help:      "The total number of invites created or resent",
	}, []string{"delivery"})

	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "invite",
		Name:      "redemptions_total",
		Help:      "The total number of invite redemptions by outcome",
	}, []string{"outcome"})

	retryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "invite",
		Name:      "retry_attempts_total",
		Help:      "The total number of failed attempts inside bounded retries",
	})

	selfHealed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "invite",
		Name:      "self_healed_total",
		Help:      "The total number of stale pending invites marked used in background",
	})
)
