package worker

import "github.com/prometheus/client_golang/prometheus"

// Task outcomes recorded in newsletter_delivery_tasks_total.
const (
	outcomeSent             = "sent"
	outcomeInvalidRecipient = "invalid_recipient"
	outcomeRetry            = "retry"
	outcomeDropped          = "dropped"
)

var (
	deliveryTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_tasks_total",
			Help: "Settled delivery tasks by outcome.",
		},
		[]string{"outcome"},
	)

	emptyPolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_empty_polls_total",
			Help: "Polls that found the delivery queue empty.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_queue_depth",
			Help: "Pending delivery tasks at the last sample.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryTasks, emptyPolls, queueDepth)
}
