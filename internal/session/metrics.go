package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification outcomes
const (
	outcomeAuthenticated = "authenticated"
	outcomeRejected      = "rejected"
	outcomeMalformed     = "malformed"
	outcomeTransient     = "transient"
	outcomeNoCredential  = "no_credential"
	outcomeStale         = "stale"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicadmin_session_verifications_total",
		Help: "Session verifications by outcome",
	}, []string{"outcome"})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinicadmin_session_state",
		Help: "Current session status (0 unknown, 1 authenticated, 2 unauthenticated)",
	})
)
