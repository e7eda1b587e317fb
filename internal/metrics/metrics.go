package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionsCreated counts issued attendance sessions.
var SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rollcall_sessions_created_total",
	Help: "Attendance sessions issued.",
})

// Claims counts submission outcomes. The code label is "accepted" or
// one of the stable rejection codes.
var Claims = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_claims_total",
	Help: "Attendance submissions by outcome.",
}, []string{"code"})
