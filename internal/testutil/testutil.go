// Package testutil provides shared test helpers: HTTP assertions and small
// drive-log fixtures.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/egomotion/internal/samples"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// DecodeJSON unmarshals the recorded body into v, failing the test on error.
func DecodeJSON(t testing.TB, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewLoopbackRequest creates a test request from 127.0.0.1. The /debug/
// admin routes only answer loopback clients.
func NewLoopbackRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// SteadyDrive returns n rows stepping by stepMs from startMs, each carrying
// a GPS fix stamped at the row time with velocity (vx, 0) and a constant
// forward acceleration ax.
func SteadyDrive(n int, startMs, stepMs, vx, ax float64) []samples.Row {
	rows := make([]samples.Row, n)
	for i := range rows {
		ts := startMs + float64(i)*stepMs
		rows[i] = samples.Row{TimeMs: ts, HasGPS: true}
		rows[i].GPS.Timestamp = ts
		rows[i].GPS.VelocityX = vx
		rows[i].IMU.AccelX = ax
	}
	return rows
}
