package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"copyRiskBot/internal/adapters/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg Config) (string, context.CancelFunc) {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.BoundAddr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not bind in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "http://" + srv.BoundAddr().String(), cancel
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

func TestServerHealthz(t *testing.T) {
	base, cancel := startServer(t, Config{})
	defer cancel()

	code, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestServerStatus(t *testing.T) {
	status := func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{
			"halted":         false,
			"open_positions": 2,
			"equity":         10250.5,
		}, nil
	}
	base, cancel := startServer(t, Config{Status: status})
	defer cancel()

	code, body := get(t, base+"/status")
	require.Equal(t, http.StatusOK, code)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, false, decoded["halted"])
	assert.Equal(t, 2.0, decoded["open_positions"])
	assert.Equal(t, 10250.5, decoded["equity"])
}

func TestServerStatusError(t *testing.T) {
	status := func(ctx context.Context) (interface{}, error) {
		return nil, fmt.Errorf("snapshot unavailable")
	}
	base, cancel := startServer(t, Config{Status: status})
	defer cancel()

	code, _ := get(t, base+"/status")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestServerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.ProposalsAdmitted.Inc()
	metrics.ProposalsRejected.WithLabelValues("budget_exhausted").Inc()
	metrics.Equity.Set(9990.0)

	base, cancel := startServer(t, Config{Gatherer: registry})
	defer cancel()

	code, body := get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "copyrisk_proposals_admitted_total 1"))
	assert.True(t, strings.Contains(body, `copyrisk_proposals_rejected_total{reason="budget_exhausted"} 1`))
	assert.True(t, strings.Contains(body, "copyrisk_account_equity 9990"))
}
