// ABOUTME: Tests for gateway wiring and the HTTP operational endpoints
// ABOUTME: Exercises construction from config plus health and stats handlers

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairwire/pairwire/internal/config"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "gw-test.db")},
		Frontends: config.FrontendsConfig{
			Slack: config.SlackConfig{
				Enabled:  true,
				AppToken: "xapp-test",
				BotToken: "xoxb-test",
			},
		},
	}
	require.NoError(t, cfg.Validate())

	g, err := New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() {
		g.dedupe.Close()
		_ = g.store.Close()
	})
	return g
}

func TestNewRegistersEnabledFrontends(t *testing.T) {
	g := newTestGateway(t)

	adapters := g.frontends.All()
	require.Len(t, adapters, 1)
	assert.Equal(t, "slack", adapters[0].Name())
}

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestStatsEndpoint(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.store.CreateThread(ctx, "slack|C1|1.0", "slack|U1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	g.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.WaitingThreads)
	assert.Equal(t, 0, stats.OpenChats)
	assert.Equal(t, []string{"slack"}, stats.Frontends)
}

func TestStatsEndpointMethodNotAllowed(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleStats(rec, httptest.NewRequest(http.MethodPost, "/api/stats", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
