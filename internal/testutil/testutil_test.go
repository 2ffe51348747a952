package testutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestDecodeJSON(t *testing.T) {
	w := NewTestRecorder()
	w.WriteString(`{"seq": 3}`)

	var got struct {
		Seq int `json:"seq"`
	}
	DecodeJSON(t, w, &got)
	assert.Equal(t, 3, got.Seq)
}

func TestNewLoopbackRequest(t *testing.T) {
	req := NewLoopbackRequest(http.MethodGet, "/debug/")
	assert.Equal(t, "127.0.0.1:12345", req.RemoteAddr)
	assert.Equal(t, "/debug/", req.URL.Path)
}

func TestSteadyDrive(t *testing.T) {
	rows := SteadyDrive(3, 1000, 10, 5, 0.2)
	assert.Len(t, rows, 3)
	assert.Equal(t, 1020.0, rows[2].TimeMs)
	assert.Equal(t, rows[2].TimeMs, rows[2].GPS.Timestamp)
	assert.True(t, rows[1].HasGPS)
	assert.Equal(t, 5.0, rows[0].GPS.VelocityX)
	assert.Equal(t, 0.2, rows[0].IMU.AccelX)
}
