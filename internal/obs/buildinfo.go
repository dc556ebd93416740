package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceName labels logs, health responses and the gRPC health service.
const ServiceName = "crmdesk-api"

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmdesk_build_info",
			Help: "CRM desk API build information.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo registers build_info once and sets it to 1 for the given labels.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}
