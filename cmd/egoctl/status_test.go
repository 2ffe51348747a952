package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/egomotion/internal/httputil"
)

func withMockHTTP(t *testing.T) *httputil.MockHTTPClient {
	t.Helper()
	mock := httputil.NewMockHTTPClient()
	prev := httpClient
	httpClient = mock
	t.Cleanup(func() { httpClient = prev })
	return mock
}

func TestStatus(t *testing.T) {
	mock := withMockHTTP(t)
	mock.AddResponse(http.StatusOK, `{
		"version": "1.2.0", "git_sha": "abc123", "run_id": "run_x", "uptime_s": 90,
		"stats": {"cycles": 100, "applied": 99, "gps_corrected": 10, "spike_rejections": 2, "singular": 0, "resets": 1,
			"covariance": {"trace": 12.5, "min_eigenvalue": 0.01, "max_eigenvalue": 9, "positive_semi_definite": false}},
		"has_latest": true, "last_t_ms": 1000, "stale": true,
		"bridge": {"lines": {"imu": 5, "gps": 2}, "bad_lines": 1}
	}`)

	out, err := runApp(t, "status", "--url", "http://car:8080")
	require.NoError(t, err)
	assert.Contains(t, out, "egomotiond 1.2.0 (git abc123), up 1m30s")
	assert.Contains(t, out, "run_x")
	assert.Contains(t, out, "100 (99 applied, 10 gps corrected, 2 spikes, 0 singular, 1 resets)")
	assert.Contains(t, out, "STALE")
	assert.Contains(t, out, "trace 12.5, eigenvalues [0.01, 9], NOT PSD")
	assert.Contains(t, out, "7 lines, 1 bad")
	assert.Equal(t, "http://car:8080/api/status", mock.Requests[0].URL.String())
}

func TestStatus_NoEstimate(t *testing.T) {
	withMockHTTP(t).AddResponse(http.StatusOK, `{"version": "dev", "git_sha": "unknown", "stats": {}}`)

	out, err := runApp(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "estimate: none yet")
	assert.NotContains(t, out, "bridge:")
	assert.NotContains(t, out, "cov:")
}

func TestStatus_Unreachable(t *testing.T) {
	withMockHTTP(t).AddErrorResponse(errors.New("connection refused"))
	_, err := runApp(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReset(t *testing.T) {
	mock := withMockHTTP(t)
	mock.AddResponse(http.StatusAccepted, `{"status": "reset requested"}`)

	out, err := runApp(t, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset requested")
	require.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, http.MethodPost, mock.Requests[0].Method)
	assert.Equal(t, "/api/egomotion/reset", mock.Requests[0].URL.Path)
}

func TestReset_ServerError(t *testing.T) {
	withMockHTTP(t).AddResponse(http.StatusServiceUnavailable, `{"error": "estimator not running"}`)
	_, err := runApp(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estimator not running")
}
