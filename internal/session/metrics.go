package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mOpenDescriptors = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "session_open_descriptors",
	Help: "Number of currently open session descriptors across all clients.",
})
