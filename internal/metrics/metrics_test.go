package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LedgerOp("hold", nil)
	m.PaymentCredit("stars", true)
	m.ReferralPayout(1, "paid")
	m.ReleaseFailed()
	m.Swept("hold", 3)
	m.ObserveMetered(1)
}

func TestCounters(t *testing.T) {
	m := New()

	m.LedgerOp("hold", nil)
	m.LedgerOp("hold", errors.New("boom"))
	m.PaymentCredit("stars", true)
	m.PaymentCredit("stars", false)
	m.ReleaseFailed()
	m.Swept("hold", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("hold", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("hold", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentCredits.WithLabelValues("stars", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releaseFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeperActions.WithLabelValues("hold")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.PaymentCredit("ton_usdt", true)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `stars_ledger_payments_credits_total{applied="true",rail="ton_usdt"} 1`))
}
