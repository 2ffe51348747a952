package monitoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	now := time.Unix(0, 0)
	th := NewThrottle(time.Second)
	th.now = func() time.Time { return now }

	assert.True(t, th.Logf("spike", "rejected %s", "accel_x"))
	assert.False(t, th.Logf("spike", "rejected %s", "accel_x"))
	assert.False(t, th.Logf("spike", "rejected %s", "accel_y"))
	assert.Equal(t, 2, th.Suppressed("spike"))

	// Other keys are independent.
	assert.True(t, th.Logf("gps", "stale gps"))

	now = now.Add(999 * time.Millisecond)
	assert.False(t, th.Logf("spike", "rejected %s", "yaw_rate"))

	now = now.Add(time.Millisecond)
	assert.True(t, th.Logf("spike", "rejected %s", "gps_vel_x"))
	assert.Equal(t, 0, th.Suppressed("spike"))

	assert.Equal(t, []string{
		"rejected accel_x",
		"stale gps",
		"rejected gps_vel_x (3 similar suppressed)",
	}, lines)
}
