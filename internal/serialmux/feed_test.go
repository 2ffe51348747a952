package serialmux

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/samples"
)

// scriptedMux hands out one pre-filled subscription.
type scriptedMux struct {
	DisabledSerialMux
	lines        chan string
	unsubscribed bool
}

func newScriptedMux(lines ...string) *scriptedMux {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return &scriptedMux{lines: ch}
}

func (m *scriptedMux) Subscribe() (string, chan string) { return "scripted", m.lines }
func (m *scriptedMux) Unsubscribe(string)               { m.unsubscribed = true }
func (m *scriptedMux) AttachAdminRoutes(*http.ServeMux) {}

func TestFeed(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })

	mux := newScriptedMux(
		`{"kind":"ack","cmd":"RATE IMU 100","ok":true}`,
		`{"kind":"imu","t_ms":10,"ax":0.5,"ay":0,"yaw":2}`,
		`garbage`,
		`{"kind":"gps","t_ms":5}`,
		`{"kind":"gps","t_ms":5,"vx":3,"vy":0}`,
		`{"kind":"tick","t_ms":10}`,
	)
	out := make(chan samples.Event, 8)
	state := NewBridgeState()

	require.NoError(t, Feed(context.Background(), mux, out, state, nil))
	assert.True(t, mux.unsubscribed)

	require.Len(t, out, 3)
	assert.Equal(t, samples.KindIMU, (<-out).Kind)
	gps := <-out
	assert.Equal(t, 3.0, gps.GPS.VelocityX)
	assert.Equal(t, samples.KindTick, (<-out).Kind)

	snap := state.Snapshot()
	assert.Equal(t, uint64(1), snap.BadLines)
	assert.Equal(t, uint64(2), snap.Lines[samples.KindGPS])
	assert.Equal(t, uint64(1), snap.Lines[samples.KindUnknown])
	assert.Equal(t, "RATE IMU 100", snap.Acks["cmd"])
	assert.Equal(t, true, snap.Acks["ok"])
	assert.NotContains(t, snap.Acks, "kind")
	assert.False(t, snap.LastLine.IsZero())
}

func TestFeed_ContextCancelledWhileBlocked(t *testing.T) {
	mux := newScriptedMux(`{"kind":"tick","t_ms":1}`)
	out := make(chan samples.Event) // never read

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Feed(ctx, mux, out, nil, monitoring.NewThrottle(time.Second))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
