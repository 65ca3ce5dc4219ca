package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo, poolStats) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "briefd_build_info",
		Help: "Constant 1, labeled with version, commit and the running command.",
	},
	[]string{"version", "commit", "command"},
)

var poolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "briefd_pool_connections",
		Help: "Connection pool state per backing store (postgres, redis).",
	},
	[]string{"store", "state"}, // state: total | idle | in_use
)

func SetBuildInfo(version, commit, command string) {
	buildInfo.WithLabelValues(version, commit, command).Set(1)
}

func SetPoolStats(store string, total, idle, inUse int64) {
	poolStats.WithLabelValues(store, "total").Set(float64(total))
	poolStats.WithLabelValues(store, "idle").Set(float64(idle))
	poolStats.WithLabelValues(store, "in_use").Set(float64(inUse))
}
