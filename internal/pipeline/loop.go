package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/samples"
	"github.com/banshee-data/egomotion/internal/timeutil"
)

// DefaultInterval is the control cycle period.
const DefaultInterval = 10 * time.Millisecond

const gpsOutageFactor = 10

// healthEvery is how many applied cycles pass between covariance checks.
const healthEvery = 100

// Options configures a Loop.
type Options struct {
	Estimator *egomotion.Estimator
	Clock     timeutil.Clock
	Interval  time.Duration
	// UseBridgeTicks takes the cycle time from the latest bridge tick
	// event instead of the local clock once one has been received.
	UseBridgeTicks bool
	RunID          string
	Sinks          []Sink
	// Throttle rate-limits per-cycle diagnostics. Defaults to one message
	// per key every five seconds.
	Throttle *monitoring.Throttle
}

// Stats counts what the loop has done since it started.
type Stats struct {
	Cycles          uint64  `json:"cycles"`
	Applied         uint64  `json:"applied"`
	GpsCorrected    uint64  `json:"gps_corrected"`
	SpikeRejections uint64  `json:"spike_rejections"`
	Singular        uint64  `json:"singular"`
	Resets          uint64  `json:"resets"`
	LastTimeMs      float64 `json:"last_t_ms"`
	// Covariance is the most recent periodic covariance check, nil until
	// the first applied cycle.
	Covariance *egomotion.CovarianceHealth `json:"covariance,omitempty"`
}

// Loop owns an EstimatorState and steps it once per clock tick from the
// most recent sensor samples. The state is only touched by the goroutine
// running Run; other goroutines see snapshots through Latest and Stats.
type Loop struct {
	est      *egomotion.Estimator
	clock    timeutil.Clock
	interval time.Duration
	ticks    bool
	runID    string
	sinks    []Sink
	throttle *monitoring.Throttle

	reset chan struct{}

	// Owned by the Run goroutine. seq keeps counting across resets since
	// estimates of one run are keyed by (run, seq).
	state  egomotion.EstimatorState
	latch  samples.Latch
	seq    uint64
	primed bool

	mu     sync.RWMutex
	latest Estimate
	has    bool
	stats  Stats
}

// NewLoop returns a Loop with an initialised state.
func NewLoop(opts Options) *Loop {
	if opts.Estimator == nil {
		opts.Estimator = egomotion.New(egomotion.DefaultConfig())
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Throttle == nil {
		opts.Throttle = monitoring.NewThrottle(5 * time.Second)
	}
	l := &Loop{
		est:      opts.Estimator,
		clock:    opts.Clock,
		interval: opts.Interval,
		ticks:    opts.UseBridgeTicks,
		runID:    opts.RunID,
		sinks:    opts.Sinks,
		throttle: opts.Throttle,
		reset:    make(chan struct{}, 1),
	}
	l.est.Initialize(&l.state)
	return l
}

// AddSink registers s. It must be called before Run.
func (l *Loop) AddSink(s Sink) { l.sinks = append(l.sinks, s) }

// Run consumes events and steps the estimator on every tick until ctx is
// cancelled. A closed events channel leaves the loop running on the last
// latched samples.
func (l *Loop) Run(ctx context.Context, events <-chan samples.Event) error {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.latch.Apply(ev)

		case <-l.reset:
			l.est.Initialize(&l.state)
			l.primed = false
			l.mu.Lock()
			l.latest, l.has = Estimate{}, false
			l.stats.Resets++
			l.mu.Unlock()
			monitoring.Logf("egomotion: estimator reset")

		case now := <-ticker.C():
			l.cycle(l.cycleTime(now))
		}
	}
}

func (l *Loop) cycleTime(now time.Time) float64 {
	if l.ticks {
		if t, ok := l.latch.Tick(); ok {
			return t
		}
	}
	return timeutil.UnixMillis(now)
}

// cycle runs one estimator step at nowMs.
func (l *Loop) cycle(nowMs float64) {
	row, ok := l.latch.Take(nowMs)
	l.mu.Lock()
	l.stats.Cycles++
	l.mu.Unlock()
	if !ok {
		return
	}

	// Until a cycle has been applied the state carries no time base; the
	// first prediction spans one interval.
	if !l.primed {
		prime(&l.state, nowMs, float64(l.interval)/float64(time.Millisecond))
	}
	e, ok := step(l.est, &l.state, row, l.runID, l.seq+1)
	if !ok {
		return
	}
	l.primed = true
	l.seq++
	l.diagnose(e)
	health := l.checkHealth()

	l.mu.Lock()
	l.latest, l.has = e, true
	l.stats.Applied++
	l.stats.LastTimeMs = e.TimeMs
	if e.Report.GpsCorrected {
		l.stats.GpsCorrected++
	}
	if e.Report.Rejected != 0 {
		l.stats.SpikeRejections++
	}
	if e.Report.Singular {
		l.stats.Singular++
	}
	if health != nil {
		l.stats.Covariance = health
	}
	l.mu.Unlock()

	for _, s := range l.sinks {
		s.Publish(e)
	}
}

func (l *Loop) diagnose(e Estimate) {
	rep := e.Report
	if rep.Rejected != 0 {
		l.throttle.Logf("spike", "egomotion: rejected spike on %s at t=%.0fms", rep.Rejected, e.TimeMs)
	}
	// Fixes routinely age past the gate between arrivals; only report
	// outages.
	if !rep.GpsFresh {
		gps, _ := l.latch.GPS()
		if age := e.TimeMs - gps.Timestamp; age > gpsOutageFactor*l.est.Config().GpsMaxAgeMs {
			l.throttle.Logf("stale-gps", "egomotion: GPS fix is %.0fms old at t=%.0fms", age, e.TimeMs)
		}
	}
	if rep.Singular {
		l.throttle.Logf("singular", "egomotion: innovation covariance singular at t=%.0fms, correction skipped", e.TimeMs)
	}
}

// checkHealth runs the covariance check on the first applied cycle and
// every healthEvery cycles after it. It returns nil on other cycles.
func (l *Loop) checkHealth() *egomotion.CovarianceHealth {
	if (l.seq-1)%healthEvery != 0 {
		return nil
	}
	h, err := egomotion.CheckCovariance(l.state.P)
	if err != nil {
		l.throttle.Logf("covariance", "egomotion: covariance check failed at seq %d: %v", l.seq, err)
		return nil
	}
	if !h.PositiveSemiDefinite {
		l.throttle.Logf("covariance", "egomotion: covariance lost positive semi-definiteness (min eigenvalue %g)", h.MinEigenvalue)
	}
	return &h
}

// Latest returns the most recent estimate. ok is false before the first
// applied cycle and after a reset.
func (l *Loop) Latest() (Estimate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, l.has
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Reset asks the loop to re-initialise the estimator before its next
// cycle. Requests made while one is already pending are merged.
func (l *Loop) Reset() {
	select {
	case l.reset <- struct{}{}:
	default:
	}
}
