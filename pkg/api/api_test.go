package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ethpandaops/dnsperfoor/pkg/config"
	"github.com/ethpandaops/dnsperfoor/pkg/dnsperf"
	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

func f64(v float64) *float64 {
	return &v
}

func setupTestServer(t *testing.T, cfg *config.APIConfig) *server {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))

	_, err := st.IngestRun(context.Background(), &dnsperf.Run{
		RunID: "1469754418",
		Settings: map[string]string{
			dnsperf.SettingDnsperfQueries: "",
			dnsperf.SettingKubednsCPU:     "",
			dnsperf.SettingDnsmasqCPU:     "200m",
			dnsperf.SettingDnsmasqCache:   "10000",
			dnsperf.SettingMaxQPS:         "-Q1000",
			dnsperf.SettingQueryType:      "service",
		},
		Results: dnsperf.Results{
			QPS:        f64(999.93),
			AvgLatency: f64(0.000948),
			MaxLatency: f64(0.013766),
		},
		Histogram: []dnsperf.Bucket{
			{RTTMs: 10, Count: 1},
			{RTTMs: 20, Count: 1},
		},
	}, "sample.log", store.DuplicateAllow)
	require.NoError(t, err)

	reportCfg := &config.ReportConfig{
		Format:      "table",
		Percentiles: []float64{50},
		Dimensions: config.ReportDimensions{
			DnsmasqCache: []string{"10000"},
			KubednsCPU:   []string{""},
			DnsmasqCPU:   []string{"200m"},
			QueryType:    []string{"service"},
			MaxQPS:       []string{"-Q1000"},
		},
	}

	srv := newServer(log, cfg, reportCfg, st)

	t.Cleanup(func() {
		_ = srv.Stop()
		_ = st.Stop()
	})

	return srv
}

func doRequest(
	t *testing.T, h http.Handler, path string, mutate func(*http.Request),
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t, &config.APIConfig{})

	rec := doRequest(t, srv.buildRouter(), "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRuns(t *testing.T) {
	srv := setupTestServer(t, &config.APIConfig{})

	rec := doRequest(t, srv.buildRouter(), "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "1469754418", runs[0].RunID)
	assert.Equal(t, "sample.log", runs[0].Source)
}

func TestReport(t *testing.T) {
	srv := setupTestServer(t, &config.APIConfig{})
	h := srv.buildRouter()

	t.Run("default format is the table", func(t *testing.T) {
		rec := doRequest(t, h, "/api/v1/report", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

		lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "Y|unlimited|200m|service|1000|999|0.9|13.8|15.0", lines[2])
	})

	t.Run("json", func(t *testing.T) {
		rec := doRequest(t, h, "/api/v1/report?format=json", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var rows []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "1000", rows[0]["target_qps"])
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := doRequest(t, h, "/api/v1/report?format=csv", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := setupTestServer(t, &config.APIConfig{
		Auth: config.APIAuthConfig{
			Basic: config.BasicAuthConfig{
				Enabled: true,
				Users: []config.BasicAuthUser{
					{Username: "admin", PasswordHash: string(hash)},
				},
			},
		},
	})
	h := srv.buildRouter()

	tests := []struct {
		name     string
		path     string
		user     string
		pass     string
		noAuth   bool
		expected int
	}{
		{name: "health is public", path: "/api/v1/health", noAuth: true, expected: http.StatusOK},
		{name: "missing credentials", path: "/api/v1/runs", noAuth: true, expected: http.StatusUnauthorized},
		{name: "wrong password", path: "/api/v1/runs", user: "admin", pass: "nope", expected: http.StatusUnauthorized},
		{name: "unknown user", path: "/api/v1/runs", user: "bob", pass: "secret", expected: http.StatusUnauthorized},
		{name: "valid credentials", path: "/api/v1/runs", user: "admin", pass: "secret", expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.path, func(r *http.Request) {
				if !tt.noAuth {
					r.SetBasicAuth(tt.user, tt.pass)
				}
			})

			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	srv := setupTestServer(t, &config.APIConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})
	h := srv.buildRouter()

	setIP := func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1234" }

	assert.Equal(t, http.StatusOK, doRequest(t, h, "/api/v1/runs", setIP).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, "/api/v1/runs", setIP).Code)
	assert.Equal(t, http.StatusTooManyRequests,
		doRequest(t, h, "/api/v1/runs", setIP).Code)

	other := doRequest(t, h, "/api/v1/runs", func(r *http.Request) {
		r.RemoteAddr = "10.0.0.2:1234"
	})
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name     string
		xff      string
		remote   string
		expected string
	}{
		{name: "remote addr", remote: "192.0.2.1:5555", expected: "192.0.2.1"},
		{name: "forwarded chain", xff: "203.0.113.7, 10.0.0.1", remote: "10.0.0.1:80", expected: "203.0.113.7"},
		{name: "single forwarded", xff: "203.0.113.8", remote: "10.0.0.1:80", expected: "203.0.113.8"},
		{name: "remote without port", remote: "192.0.2.9", expected: "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.expected, extractIP(req))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := setupTestServer(t, &config.APIConfig{
		Listen:    "127.0.0.1:0",
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60},
	})

	require.NoError(t, srv.Start(context.Background()))
	require.Len(t, srv.limiters, 1, "limiter cleanup is owned by the running server")

	// Stop waits for the limiter cleanup and HTTP goroutines to exit.
	require.NoError(t, srv.Stop())

	assert.NotPanics(t, func() {
		require.NoError(t, srv.Stop())
	}, "a second Stop is a no-op")
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := setupTestServer(t, &config.APIConfig{})

	assert.NotPanics(t, func() {
		require.NoError(t, srv.Stop())
		require.NoError(t, srv.Stop())
	})
}
