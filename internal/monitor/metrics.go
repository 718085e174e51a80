package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nasguard",
		Subsystem: "monitor",
		Name:      "workers",
		Help:      "Device workers by state.",
	}, []string{"state"})

	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nasguard",
		Subsystem: "monitor",
		Name:      "poll_cycles_total",
		Help:      "Poll cycles by result.",
	}, []string{"result"})

	flickerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nasguard",
		Subsystem: "monitor",
		Name:      "flicker_rejections_total",
		Help:      "Status batches discarded as implausible.",
	})

	connectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nasguard",
		Subsystem: "monitor",
		Name:      "connect_failures_total",
		Help:      "Failed device connection attempts.",
	})
)
