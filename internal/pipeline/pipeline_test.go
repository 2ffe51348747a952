package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/samples"
	"github.com/banshee-data/egomotion/internal/sim"
	"github.com/banshee-data/egomotion/internal/testutil"
	"github.com/banshee-data/egomotion/internal/timeutil"
)

func TestReplay(t *testing.T) {
	rows, truth, err := sim.Generate(sim.DefaultOptions(sim.Accelerate))
	require.NoError(t, err)

	var seen int
	out, st := Replay(rows, egomotion.New(egomotion.DefaultConfig()), "run-1", SinkFunc(func(Estimate) { seen++ }))

	withGPS := 0
	for _, r := range rows {
		if r.HasGPS {
			withGPS++
		}
	}
	require.Len(t, out, withGPS)
	assert.Equal(t, withGPS, seen)
	for i, e := range out {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, "run-1", e.RunID)
		assert.True(t, e.Report.Applied)
	}

	last := out[len(out)-1]
	assert.Equal(t, rows[len(rows)-1].TimeMs, last.TimeMs)
	assert.InDelta(t, truth[len(truth)-1].VelocityX, last.Record.VelocityX, 0.5)
	assert.Equal(t, last.Record.VelocityX, st.X[egomotion.IdxVelX])
	assert.InDelta(t, last.Speed(), last.Record.VelocityX, 0.5)
}

func TestReplay_Deterministic(t *testing.T) {
	rows, _, err := sim.Generate(sim.DefaultOptions(sim.Spikes))
	require.NoError(t, err)
	est := egomotion.New(egomotion.DefaultConfig())

	a, _ := Replay(rows, est, "")
	b, _ := Replay(rows, est, "")
	assert.Equal(t, a, b)

	rejected := 0
	for _, e := range a {
		if e.Report.Rejected != 0 {
			rejected++
		}
	}
	assert.Greater(t, rejected, 0)
}

func TestReplay_EpochTimestamps(t *testing.T) {
	rows := testutil.SteadyDrive(3, loopStart, 10, 0, 0)
	for i := range rows {
		rows[i].IMU.YawRate = 1
	}
	// The first row has no fix; the first applied row predicts from it.
	rows[0].HasGPS = false

	out, _ := Replay(rows, egomotion.New(egomotion.DefaultConfig()), "")
	require.Len(t, out, 2)
	assert.InDelta(t, 0.01, out[0].Report.DtSeconds, 1e-9)
	assert.InDelta(t, 0.01, out[0].Record.Heading, 1e-9)
	assert.InDelta(t, 0.02, out[1].Record.Heading, 1e-9)
	assert.Less(t, math.Abs(out[0].Record.VelocityX), 0.01)

	// A fix on the very first row predicts over the minimum interval.
	out, _ = Replay(rows[1:], egomotion.New(egomotion.DefaultConfig()), "")
	require.Len(t, out, 2)
	assert.InDelta(t, 0.01, out[0].Report.DtSeconds, 1e-9)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(2)
	id, ch := b.Subscribe()
	assert.Equal(t, 1, b.Len())

	b.Publish(Estimate{Seq: 1})
	b.Publish(Estimate{Seq: 2})
	b.Publish(Estimate{Seq: 3}) // queue full

	assert.Equal(t, uint64(1), (<-ch).Seq)
	assert.Equal(t, uint64(2), (<-ch).Seq)
	assert.Equal(t, uint64(1), b.Dropped(id))

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Len())
	b.Unsubscribe(id)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(0)
	_, ch1 := b.Subscribe()
	b.Close()
	_, open := <-ch1
	assert.False(t, open)

	_, ch2 := b.Subscribe()
	_, open = <-ch2
	assert.False(t, open)
	b.Publish(Estimate{})
}

// loopStart is an epoch-scale start time, as the daemon sees with the wall
// clock.
const loopStart = 1_700_000_000_000

type loopHarness struct {
	loop   *Loop
	clock  *timeutil.MockClock
	events chan samples.Event
	got    chan Estimate
	cancel context.CancelFunc
	done   chan error
}

func startLoop(t *testing.T, opts Options) *loopHarness {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })

	h := &loopHarness{
		clock:  timeutil.NewMockClock(time.UnixMilli(loopStart)),
		events: make(chan samples.Event),
		got:    make(chan Estimate, 16),
		done:   make(chan error, 1),
	}
	opts.Clock = h.clock
	opts.Sinks = append(opts.Sinks, SinkFunc(func(e Estimate) { h.got <- e }))
	h.loop = NewLoop(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx, h.events) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *loopHarness) next(t *testing.T) Estimate {
	t.Helper()
	select {
	case e := <-h.got:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an estimate")
		return Estimate{}
	}
}

func (h *loopHarness) feed(evs ...samples.Event) {
	for _, ev := range evs {
		h.events <- ev
	}
}

// tick advances the clock one interval and waits for the loop to run the
// cycle.
func (h *loopHarness) tick(t *testing.T) {
	t.Helper()
	want := h.loop.Stats().Cycles + 1
	h.clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return h.loop.Stats().Cycles == want }, 2*time.Second, time.Millisecond)
}

func gpsEvent(ms, vx float64) samples.Event {
	return samples.Event{Kind: samples.KindGPS, TimeMs: ms, GPS: egomotion.GpsSample{Timestamp: ms, VelocityX: vx}}
}

func imuEvent(ms float64) samples.Event {
	return samples.Event{Kind: samples.KindIMU, TimeMs: ms}
}

func turningIMU(ms float64) samples.Event {
	return samples.Event{Kind: samples.KindIMU, TimeMs: ms, IMU: egomotion.ImuSample{AccelX: 0.2, YawRate: 1}}
}

func TestLoop_StepsOnTick(t *testing.T) {
	h := startLoop(t, Options{RunID: "live"})

	h.feed(gpsEvent(loopStart, 5), imuEvent(loopStart))
	h.clock.Advance(10 * time.Millisecond)

	e := h.next(t)
	assert.Equal(t, uint64(1), e.Seq)
	assert.Equal(t, "live", e.RunID)
	assert.Equal(t, float64(loopStart+10), e.TimeMs)
	assert.True(t, e.Report.GpsCorrected)
	assert.InDelta(t, 5, e.Record.VelocityX, 0.01)

	latest, ok := h.loop.Latest()
	require.True(t, ok)
	assert.Equal(t, e, latest)

	h.feed(imuEvent(loopStart + 10))
	h.clock.Advance(10 * time.Millisecond)
	e = h.next(t)
	assert.Equal(t, uint64(2), e.Seq)
	assert.InDelta(t, 0.01, e.Report.DtSeconds, 1e-9)

	stats := h.loop.Stats()
	assert.Equal(t, uint64(2), stats.Applied)
	assert.Equal(t, float64(loopStart+20), stats.LastTimeMs)
}

func TestLoop_FirstCycleSpansOneInterval(t *testing.T) {
	h := startLoop(t, Options{})

	h.feed(gpsEvent(loopStart, 0), turningIMU(loopStart))
	h.clock.Advance(DefaultInterval)

	e := h.next(t)
	assert.InDelta(t, 0.01, e.Report.DtSeconds, 1e-9)
	assert.InDelta(t, 0.01, e.Record.Heading, 1e-9)
	assert.InDelta(t, 0.2, e.Record.AccelerationX, 1e-3)
	assert.Less(t, math.Abs(e.Record.VelocityX), 0.01)
}

func TestLoop_StaleIMUNotReapplied(t *testing.T) {
	h := startLoop(t, Options{})

	h.feed(gpsEvent(loopStart, 0), turningIMU(loopStart))
	h.clock.Advance(DefaultInterval)
	first := h.next(t)

	for i := 0; i < 5; i++ {
		h.tick(t)
	}
	assert.Empty(t, h.got)
	assert.Equal(t, uint64(1), h.loop.Stats().Applied)
	latest, ok := h.loop.Latest()
	require.True(t, ok)
	assert.Equal(t, first, latest)

	// A fresh sample resumes the loop from the last applied cycle.
	h.feed(turningIMU(loopStart + 60))
	h.clock.Advance(DefaultInterval)
	e := h.next(t)
	assert.Equal(t, uint64(2), e.Seq)
	assert.InDelta(t, 0.06, e.Report.DtSeconds, 1e-9)
	assert.InDelta(t, 0.07, e.Record.Heading, 1e-9)
}

func TestLoop_SkipsWithoutSamples(t *testing.T) {
	h := startLoop(t, Options{})

	// GPS only: no IMU sample yet.
	h.feed(gpsEvent(loopStart, 5))
	h.tick(t)

	_, ok := h.loop.Latest()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), h.loop.Stats().Applied)
	assert.Empty(t, h.got)
}

func TestLoop_Reset(t *testing.T) {
	h := startLoop(t, Options{})

	h.feed(gpsEvent(loopStart, 5), turningIMU(loopStart))
	h.clock.Advance(DefaultInterval)
	h.next(t)

	h.loop.Reset()
	require.Eventually(t, func() bool { return h.loop.Stats().Resets == 1 }, 2*time.Second, time.Millisecond)
	_, ok := h.loop.Latest()
	assert.False(t, ok)

	// A tick after the reset has no new IMU sample and is skipped; the
	// next applied cycle re-primes over one interval.
	h.tick(t)
	h.feed(turningIMU(loopStart + 20))
	h.clock.Advance(DefaultInterval)
	e := h.next(t)
	assert.Equal(t, uint64(2), e.Seq, "sequence continues across a reset")
	assert.InDelta(t, 0.01, e.Report.DtSeconds, 1e-9)
	assert.InDelta(t, 0.01, e.Record.Heading, 1e-9)
}

func TestLoop_CovarianceHealth(t *testing.T) {
	h := startLoop(t, Options{})
	assert.Nil(t, h.loop.Stats().Covariance)

	h.feed(gpsEvent(loopStart, 3), imuEvent(loopStart))
	h.clock.Advance(DefaultInterval)
	h.next(t)

	cov := h.loop.Stats().Covariance
	require.NotNil(t, cov)
	assert.True(t, cov.PositiveSemiDefinite)
	assert.Greater(t, cov.Trace, 0.0)
}

func TestLoop_BridgeTicks(t *testing.T) {
	h := startLoop(t, Options{UseBridgeTicks: true})

	h.feed(
		gpsEvent(5000, 3),
		imuEvent(5000),
		samples.Event{Kind: samples.KindTick, TimeMs: 5020},
	)
	h.clock.Advance(10 * time.Millisecond)

	e := h.next(t)
	assert.Equal(t, 5020.0, e.TimeMs)
	assert.True(t, e.Report.GpsFresh)
	assert.InDelta(t, 0.01, e.Report.DtSeconds, 1e-9)
}

func TestLoop_StopsOnCancel(t *testing.T) {
	l := NewLoop(Options{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Run(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
