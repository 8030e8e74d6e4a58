package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clinicadmin_api_requests_total",
	Help: "Requests sent to the clinic API by method and status code",
}, []string{"method", "code"})
