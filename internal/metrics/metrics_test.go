package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/game"
)

func TestRegistryCounts(t *testing.T) {
	r := New()
	r.OperationDone("pay", nil)
	r.OperationDone("pay", nil)
	r.OperationDone("pay", &game.FundsError{Balance: "wallet", Have: 1, Need: 5})
	r.JobDone("interest", nil)
	r.JobDone("interest", errors.New("boom"))
	r.InstrumentPrice("Oreobux", 140)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("pay", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("pay", "insufficient_funds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("interest", "error")))
	assert.Equal(t, 140.0, testutil.ToFloat64(r.prices.WithLabelValues("Oreobux")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.InstrumentPrice("QMkoin", 150)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `coinbot_instrument_price{symbol="QMkoin"} 150`)
}
