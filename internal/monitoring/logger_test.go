package monitoring

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// captureLogs routes Logf into a buffer for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0).Printf)
	return &buf
}

func TestSetLogger_Redirects(t *testing.T) {
	buf := captureLogs(t)

	Logf("egomotion: rejected spike on %s at t=%.0fms", "accel_x", 1250.0)
	assert.Equal(t, "egomotion: rejected spike on accel_x at t=1250ms\n", buf.String())
}

func TestSetLogger_NilMutes(t *testing.T) {
	buf := captureLogs(t)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("run %s: %d estimates were not persisted", "run_x", 3) })
	assert.Empty(t, buf.String())
}

func TestLogf_DefaultsToStandardLogger(t *testing.T) {
	var buf bytes.Buffer
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	}()

	Logf("egomotion: estimator reset")
	assert.Equal(t, "egomotion: estimator reset\n", buf.String())
}

func TestThrottle_UsesCurrentLogger(t *testing.T) {
	buf := captureLogs(t)

	th := NewThrottle(0)
	assert.True(t, th.Logf("singular", "egomotion: innovation covariance singular"))
	assert.Contains(t, buf.String(), "innovation covariance singular")
}
