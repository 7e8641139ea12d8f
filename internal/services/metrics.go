package services

import "github.com/prometheus/client_golang/prometheus"

// Publish results recorded in newsletter_publish_total.
const (
	publishCreated  = "created"
	publishReplayed = "replayed"
	publishConflict = "conflict"
	publishInvalid  = "invalid"
	publishError    = "error"
)

// publishTotal counts publish commands by how they ended.
var publishTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "newsletter_publish_total",
		Help: "Newsletter publish commands by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(publishTotal)
}
