package apns

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api"
	"github.com/uniqush/uniqush-apns/testutil"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{NewTimeoutError("write", 0, nil), "timeout"},
		{NewNotConnectedError(StateDegraded, NewConnectionError("a", errors.New("refused"))), "not_connected"},
		{NewConnectionError("a", errors.New("reset")), "connection"},
		{NewClosedError(), "closed"},
		{NewPayloadTooLargeError(3000, 2048), "payload"},
		{NewBadPayloadError("nil"), "payload"},
		{&IndexOutOfRangeError{Identifier: 7, Index: 7, Size: 2}, "desync"},
		{NewGatewayError(binary_api.Status1ProcessingError, 0, ""), "gateway"},
		{context.Canceled, "canceled"},
		{fmt.Errorf("send: %w", context.DeadlineExceeded), "deadline"},
		{&binary_api.IndexError{Identifier: 7, Index: 7, Size: 2}, "other"},
		{errors.New("something else"), "other"},
	}
	for _, c := range cases {
		testutil.ExpectStringEquals(t, c.kind, errorKind(c.err), fmt.Sprintf("kind of %v", c.err))
	}
}

func TestCountSendWithPartialResult(t *testing.T) {
	m := newSessionMetrics(Production)
	delivered := notificationsDelivered.WithLabelValues(Production.String())
	errorsCounter := sendErrorCounter.WithLabelValues(Production.String(), "not_connected")
	deliveredBefore := counterValue(t, delivered)
	errorsBefore := counterValue(t, errorsCounter)

	m.countSend(&SendResult{Delivered: 2, Processed: 3}, NewNotConnectedError(StateDegraded, nil), 0)
	m.countSend(nil, NewNotConnectedError(StateConfigured, nil), 0)

	testutil.ExpectEquals(t, 2.0, counterValue(t, delivered)-deliveredBefore, "delivered")
	testutil.ExpectEquals(t, 2.0, counterValue(t, errorsCounter)-errorsBefore, "errors")
}
