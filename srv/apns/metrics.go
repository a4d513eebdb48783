package apns

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniqush_apns_notifications_delivered_total",
		Help: "The total number of notifications APNS did not report an error for",
	}, []string{
		"mode",
	})

	invalidTokensCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniqush_apns_invalid_tokens_total",
		Help: "The total number of device tokens rejected by APNS",
	}, []string{
		"mode",
	})

	sendErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniqush_apns_send_errors_total",
		Help: "The total number of sends that failed, by kind of error",
	}, []string{
		"mode",
		"kind",
	})

	reconnectCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniqush_apns_reconnects_total",
		Help: "The total number of connections made to replace a degraded one",
	}, []string{
		"mode",
	})

	droppedLogCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uniqush_apns_dropped_log_events_total",
		Help: "The total number of log events dropped because the handler could not keep up",
	}, []string{
		"mode",
	})

	sendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uniqush_apns_send_duration_seconds",
		Help:    "Time spent in Send and SendBatch, including the wait for an error-response",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{
		"mode",
	})
)

// sessionMetrics binds the collectors to the labels of one session.
type sessionMetrics struct {
	mode string
}

func newSessionMetrics(mode Mode) *sessionMetrics {
	return &sessionMetrics{mode: mode.String()}
}

func (m *sessionMetrics) countSend(result *SendResult, err error, duration time.Duration) {
	sendDuration.WithLabelValues(m.mode).Observe(duration.Seconds())
	if err != nil {
		sendErrorCounter.WithLabelValues(m.mode, errorKind(err)).Inc()
	}
	if result == nil {
		return
	}
	notificationsDelivered.WithLabelValues(m.mode).Add(float64(result.Delivered))
	invalidTokensCounter.WithLabelValues(m.mode).Add(float64(len(result.InvalidTokens)))
}

func (m *sessionMetrics) countReconnect() {
	reconnectCounter.WithLabelValues(m.mode).Inc()
}

func (m *sessionMetrics) countDroppedLog() {
	droppedLogCounter.WithLabelValues(m.mode).Inc()
}

func errorKind(err error) string {
	var (
		connErr    *ConnectionError
		timeoutErr *TimeoutError
		notConnErr *NotConnectedError
		closedErr  *ClosedError
		tokenErr   *InvalidTokenError
		sizeErr    *PayloadTooLargeError
		payloadErr *BadPayloadError
		indexErr   *IndexOutOfRangeError
		gatewayErr *GatewayError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &notConnErr):
		return "not_connected"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &closedErr):
		return "closed"
	case errors.As(err, &tokenErr), errors.As(err, &sizeErr), errors.As(err, &payloadErr):
		return "payload"
	case errors.As(err, &indexErr):
		return "desync"
	case errors.As(err, &gatewayErr):
		return "gateway"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	}
	return "other"
}
