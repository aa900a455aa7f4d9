package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCollector_Observations(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), 150)

	c.ObserveLoad(2*time.Second, 42)
	c.ObserveExtract(30*time.Millisecond, 4)
	c.RouteStatusInc(0)
	c.RouteStatusInc(0)
	c.RouteStatusInc(201)

	assert.Equal(t, 42.0, testutil.ToFloat64(c.RelationsLoaded))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.Workers))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.Gap))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Routes.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Routes.WithLabelValues("201")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ExtractDuration))
}

func TestCollector_ObserveStore(t *testing.T) {
	c := NewCollector(nil, 0)

	c.ObserveStore(10, nil)
	c.ObserveStore(5, errors.New("tx aborted"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreRuns.WithLabelValues("error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.StoreRoutes))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), 150)
	c.RouteStatusInc(102)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `ptparser_routes_total{code="102"} 1`), body)
	assert.Contains(t, body, "ptparser_gap_meters 150")
}
