package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Robinemad1/EEETrading/internal/config"
	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		App: config.AppConfig{
			Name:        "eeetrading-api",
			Environment: "development",
			Version:     "test",
			APIKeys:     []string{"secret"},
			CORSOrigins: []string{"http://localhost:3001"},
		},
		Cache:    config.CacheConfig{Type: "memory", KeyPrefix: "test"},
		Database: config.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "app.db")},
		QuickBooks: config.QuickBooksConfig{
			Environment:  "sandbox",
			MinorVersion: 75,
			AccountsFile: filepath.Join(t.TempDir(), "missing.toml"),
		},
		Sync: config.SyncConfig{
			Interval:         time.Hour,
			Debounce:         5 * time.Minute,
			StaleAfter:       time.Hour,
			TokenSkew:        300 * time.Second,
			FailureThreshold: 3,
			FailureCooldown:  6 * time.Hour,
		},
		Log: config.LogConfig{Level: "error", Format: "text"},
	}
}

func TestNewApp_WiresRoutes(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), appOptions{observers: true})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.hub)
	assert.Nil(t, a.relay, "memory cache has no relay")

	h := a.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quickbooks/token", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No QuickBooks token found")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/quickbooks/items", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "catalogue reads need a credential")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/quickbooks/connect", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "state=")
}

func TestNewApp_ManualSyncWithoutCredential(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), appOptions{})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.inventory.CreateItem(ctx, model.NewInventoryItem{Name: "Widget", Quantity: 2})
	require.NoError(t, err)

	_, err = a.scheduler.TriggerNow(ctx, nil)
	require.ErrorIs(t, err, service.ErrNoCredential)

	status := a.scheduler.Status()
	assert.Equal(t, int64(1), status.PassesRun)
	assert.NotEmpty(t, status.LastError)
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t,
		[]string{"localhost:3001", "dash.example.com"},
		originPatterns([]string{"http://localhost:3001", " https://dash.example.com/ ", ""}),
	)
}

func TestPrintTokenStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTokenStatus(&buf, &model.TokenStatus{
		Connected:        true,
		ExpiresInSeconds: 1800,
		Message:          "Connected to QuickBooks",
		RealmID:          "4620816365",
		IssuedAt:         time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}))
	assert.Contains(t, buf.String(), "Connected to QuickBooks")
	assert.Contains(t, buf.String(), "4620816365")
	assert.Contains(t, buf.String(), "30m0s")
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "sync", "token", "migrate"}, names)
}
