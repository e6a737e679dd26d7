package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
)

func TestObserveTransition(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTransition(wallet.Disconnected, wallet.Connecting)
	m.ObserveTransition(wallet.Disconnected, wallet.Connecting)

	got := testutil.ToFloat64(m.SessionTransitions.WithLabelValues(
		wallet.Disconnected.String(), wallet.Connecting.String()))
	assert.Equal(t, 2.0, got)
}

func TestOutcomeLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveProviderCall("personal_sign", time.Millisecond, wallet.NewProviderError(wallet.CodeUserRejectedRequest, "denied"))
	m.ObserveProviderCall("eth_chainId", time.Millisecond, nil)
	m.ObserveRegistryCall("anchor", time.Millisecond, dErrors.New(dErrors.CodeTimeout, "slow"))
	m.ObserveRegistryCall("is_anchored", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.ProviderCalls.WithLabelValues("personal_sign", "provider_4001").(prometheus.Histogram)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ProviderCalls))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RegistryCalls))
	assert.Equal(t, "timeout", outcome(dErrors.New(dErrors.CodeTimeout, "slow")))
	assert.Equal(t, "error", outcome(errors.New("boom")))
	assert.Equal(t, "ok", outcome(nil))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
