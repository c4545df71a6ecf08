package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PaymentMetrics struct {
	Initiations *prometheus.CounterVec
	Webhooks    *prometheus.CounterVec
	Refunds     *prometheus.CounterVec
}

func NewPaymentMetrics() *PaymentMetrics {
	initiations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "payments",
		Name:      "initiations_total",
		Help:      "Payment initiation attempts by gateway and outcome.",
	}, []string{"gateway", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "payments",
		Name:      "webhooks_total",
		Help:      "Webhook deliveries by gateway and acknowledgment code.",
	}, []string{"gateway", "code"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "payments",
		Name:      "refunds_total",
		Help:      "Refund attempts by gateway and outcome.",
	}, []string{"gateway", "outcome"})

	prometheus.MustRegister(initiations, webhooks, refunds)
	return &PaymentMetrics{Initiations: initiations, Webhooks: webhooks, Refunds: refunds}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
