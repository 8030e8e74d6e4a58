package console

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicadmin_console_requests_total",
		Help: "Console HTTP requests by route and status class",
	}, []string{"route", "status"})

	guardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicadmin_console_guard_decisions_total",
		Help: "Route guard decisions for protected pages",
	}, []string{"decision"})

	crossSiteRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicadmin_console_cross_site_rejections_total",
		Help: "State-changing console requests refused because they came from another site",
	})

	settingRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicadmin_console_setting_rollbacks_total",
		Help: "Optimistic settings changes reverted after the server refused them",
	})
)

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
