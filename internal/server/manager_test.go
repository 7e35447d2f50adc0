package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(NewMetricsHandler(), cfg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestManager_ServesMetricsAndHealth(t *testing.T) {
	counter := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "server_test",
		Name:      "requests_total",
		Help:      "request counter",
	})
	counter.Add(3)

	m := startTestManager(t)
	assert.True(t, m.IsRunning())

	status, body := get(t, "http://"+m.Addr()+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get(t, "http://"+m.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "server_test_requests_total 3")
}

func TestManager_DoubleStart(t *testing.T) {
	m := startTestManager(t)
	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := startTestManager(t)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(NewMetricsHandler(), DefaultConfig(), nil)
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}

func TestManager_AddrBeforeStart(t *testing.T) {
	m := NewManager(NewMetricsHandler(), DefaultConfig(), nil)
	assert.Equal(t, ":9091", m.Addr())
	assert.False(t, m.IsRunning())
}

func TestManager_ListenFailure(t *testing.T) {
	first := startTestManager(t)

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second := NewManager(NewMetricsHandler(), cfg, nil)
	assert.Error(t, second.Start())
}

func TestManager_Errors(t *testing.T) {
	m := NewManager(NewMetricsHandler(), DefaultConfig(), nil)
	assert.NotNil(t, m.Errors())
}
