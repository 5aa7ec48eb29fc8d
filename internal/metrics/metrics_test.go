package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePostingCountsOutcomes(t *testing.T) {
	m := New()
	m.ObservePosting("post_receipt", "ok", 3*time.Millisecond)
	m.ObservePosting("post_receipt", "ok", 4*time.Millisecond)
	m.ObservePosting("post_shipment", "lock_timeout", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.postings.WithLabelValues("post_receipt", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockTimeouts))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObservePublished(3, 42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invledger_feed_published_total 3")
	assert.Contains(t, rec.Body.String(), "invledger_feed_cursor_seq 42")
}
