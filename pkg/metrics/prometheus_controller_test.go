package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/pkg/metrics"
)

func TestPrometheusController_ServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "backup", Name: "probe_total", Help: "probe"})
	reg.MustRegister(counter)
	counter.Inc()

	r := mux.NewRouter()
	c := metrics.NewPrometheusControllerWithGatherer("", reg)
	require.Equal(t, "/debug/prometheus", c.Key())
	c.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/debug/prometheus")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "backup_probe_total 1")
}
