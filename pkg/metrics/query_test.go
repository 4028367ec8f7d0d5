package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prometheusStub(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetDeliveryStats(t *testing.T) {
	srv := prometheusStub(t, `{"status":"success","data":{"resultType":"vector","result":[
		{"metric":{"outcome":"delivered"},"value":[1700000000,"12"]},
		{"metric":{"outcome":"dropped"},"value":[1700000000,"2"]}
	]}}`)

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	stats, err := q.GetDeliveryStats(context.Background(), "lint")
	require.NoError(t, err)
	assert.Equal(t, "lint", stats.Agent)
	assert.Equal(t, int64(12), stats.Delivered)
	assert.Equal(t, int64(0), stats.Requeued)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, int64(14), stats.Total())
}

func TestGetDeliveryStatsByAgent(t *testing.T) {
	srv := prometheusStub(t, `{"status":"success","data":{"resultType":"vector","result":[
		{"metric":{"agent":"lint","outcome":"delivered"},"value":[1700000000,"3"]},
		{"metric":{"agent":"lint","outcome":"requeued"},"value":[1700000000,"1"]},
		{"metric":{"agent":"build","outcome":"dropped"},"value":[1700000000,"4"]}
	]}}`)

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	stats, err := q.GetDeliveryStatsByAgent(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, int64(3), stats["lint"].Delivered)
	assert.Equal(t, int64(1), stats["lint"].Requeued)
	assert.Equal(t, int64(4), stats["build"].Dropped)
}

func TestGetDeliveryStatsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error"}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	_, err = q.GetDeliveryStats(context.Background(), "lint")
	assert.Error(t, err)
}
