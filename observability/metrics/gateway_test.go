package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"paygate/core/types"
	"paygate/native/gateway"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func TestGatewayMetricsObserveTransaction(t *testing.T) {
	m := Gateway()
	before := testutil.ToFloat64(m.transactions.WithLabelValues("process_payment", "arithmetic"))
	m.ObserveTransaction("process_payment", gateway.ErrInvalidAmount, time.Millisecond)
	m.ObserveTransaction("process_payment", errors.New("boom"), time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.transactions.WithLabelValues("process_payment", "arithmetic")))
}

func TestGatewayMetricsCountsSettledVolume(t *testing.T) {
	m := Gateway()
	volume := testutil.ToFloat64(m.volume.WithLabelValues("native"))
	fees := testutil.ToFloat64(m.fees.WithLabelValues("native"))

	m.Emit(testEvent{evt: &types.Event{
		Type:       gateway.EventTypeIntentCompleted,
		Attributes: map[string]string{"amount": "10000", "fee": "250"},
	}})
	m.Emit(testEvent{evt: &types.Event{Type: gateway.EventTypeMerchantInitialized}})

	require.Equal(t, volume+10_000, testutil.ToFloat64(m.volume.WithLabelValues("native")))
	require.Equal(t, fees+250, testutil.ToFloat64(m.fees.WithLabelValues("native")))
}

func TestNilGatewayMetricsIsSafe(t *testing.T) {
	var m *GatewayMetrics
	m.ObserveTransaction("x", nil, 0)
	m.ObserveRequest("/", 200, 0)
	m.RecordThrottle("/")
	m.Emit(nil)
}
