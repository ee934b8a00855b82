package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nicolagi/bitsd/app"
	"github.com/nicolagi/bitsd/config"
	"github.com/nicolagi/bitsd/integration"
	"github.com/nicolagi/bitsd/record"
	"github.com/nicolagi/bitsd/routes"
	"github.com/nicolagi/bitsd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig() *config.Config {
	var c config.Config
	c.Signing.Secret = "geheim"
	c.Signing.Username = "the-username"
	c.Signing.Password = "the-password"
	c.Buildpacks.Type = "memory"
	c.ApplyDefaults()
	return &c
}

func newDisposableService(t *testing.T, c *config.Config) (*integration.Client, *httptest.Server) {
	srv := httptest.NewServer(app.New(c, storage.NewInMemoryStore()))
	t.Cleanup(srv.Close)
	return integration.New(integration.WithEndpoint(srv.URL)), srv
}

func TestBuildpacksRoundTrip(t *testing.T) {
	client, _ := newDisposableService(t, newConfig())

	res := client.Get("/buildpacks/notexistent")
	assert.False(t, res.Ok())
	assert.Equal(t, http.StatusNotFound, res.StatusCode())

	res = client.Put("/buildpacks/myguid", []byte("lalala\n\n"))
	require.True(t, res.Ok(), "%v: %s", res.Err(), res.Body())
	assert.Equal(t, http.StatusCreated, res.StatusCode())
	var entry record.Entry
	require.Nil(t, json.Unmarshal(res.Body(), &entry))
	assert.Equal(t, "myguid", entry.GUID)

	res = client.Get("/buildpacks/myguid")
	require.True(t, res.Ok())
	assert.Equal(t, "lalala\n\n", string(res.Body()))
	assert.NotEmpty(t, res.Response().Header.Get(routes.RequestIDHeader))
}

func TestUnknownRoutes(t *testing.T) {
	client, _ := newDisposableService(t, newConfig())
	res := client.Get("/droplets/abc")
	assert.Equal(t, http.StatusNotFound, res.StatusCode())
	var body routes.ErrorBody
	require.Nil(t, json.Unmarshal(res.Body(), &body))
	assert.Equal(t, http.StatusNotFound, body.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	client, _ := newDisposableService(t, newConfig())
	res := client.Get("/healthz")
	require.True(t, res.Ok())
	assert.Equal(t, "ok", string(res.Body()))

	client.Get("/buildpacks/abc")
	res = client.Get("/metrics")
	require.True(t, res.Ok())
	assert.Contains(t, string(res.Body()), "bitsd_http_requests_total")
}

func TestPublicHost(t *testing.T) {
	c := newConfig()
	c.PublicEndpoint = "http://public.127.0.0.1.nip.io:4443"
	_, srv := newDisposableService(t, c)
	handler := srv.Config.Handler

	t.Run("unsigned access through the public host is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://public.127.0.0.1.nip.io:4443/buildpacks/abc", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("signed URLs point at the public host and work there", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "http://internal/buildpacks/abc", strings.NewReader("bits"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "http://internal/sign/buildpacks/abc", nil)
		req.SetBasicAuth("the-username", "the-password")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		signed := rec.Body.String()
		assert.True(t, strings.HasPrefix(signed, c.PublicEndpoint+"/signed/buildpacks/abc?"), signed)

		req = httptest.NewRequest(http.MethodGet, signed, nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bits", rec.Body.String())
	})
}

func TestExpiredSignedURL(t *testing.T) {
	c := newConfig()
	clock := time.Unix(1580000000, 0)
	now := func() time.Time { return clock }
	handler := app.New(c, storage.NewInMemoryStore(), app.WithClock(now))

	req := httptest.NewRequest(http.MethodGet, "http://internal/sign/buildpacks/abc", nil)
	req.SetBasicAuth("the-username", "the-password")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	signed := rec.Body.String()

	clock = clock.Add(c.Expiration() + time.Second)
	req = httptest.NewRequest(http.MethodGet, signed, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit(t *testing.T) {
	c := newConfig()
	c.RateLimit.RequestsPerSecond = 0.001
	c.RateLimit.Burst = 2
	client, _ := newDisposableService(t, c)
	assert.True(t, client.Get("/healthz").Ok())
	assert.True(t, client.Get("/healthz").Ok())
	res := client.Get("/healthz")
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode())
	assert.Equal(t, "1", res.Response().Header.Get("Retry-After"))
}

func TestBodyLimitFromConfig(t *testing.T) {
	c := newConfig()
	c.MaxBodySize = 4
	client, _ := newDisposableService(t, c)
	res := client.Put("/buildpacks/abc", []byte("12345"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode())
}
