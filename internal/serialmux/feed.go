package serialmux

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/samples"
)

// BridgeState tracks what the bridge has told us: line counts by kind and
// the most recent acknowledgement fields.
type BridgeState struct {
	mu       sync.Mutex
	counts   map[samples.Kind]uint64
	bad      uint64
	acks     map[string]any
	lastLine time.Time
}

// BridgeSnapshot is a point-in-time copy of BridgeState.
type BridgeSnapshot struct {
	Lines    map[samples.Kind]uint64 `json:"lines"`
	BadLines uint64                  `json:"bad_lines"`
	Acks     map[string]any          `json:"acks,omitempty"`
	LastLine time.Time               `json:"last_line,omitempty"`
}

func NewBridgeState() *BridgeState {
	return &BridgeState{
		counts: make(map[samples.Kind]uint64),
		acks:   make(map[string]any),
	}
}

func (b *BridgeState) record(kind samples.Kind, bad bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[kind]++
	if bad {
		b.bad++
	}
	b.lastLine = time.Now()
}

// handleAck merges an acknowledgement's fields into the state.
func (b *BridgeState) handleAck(line string) error {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return err
	}
	delete(fields, "kind")
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range fields {
		b.acks[k] = v
	}
	return nil
}

// Snapshot returns a copy of the state.
func (b *BridgeState) Snapshot() BridgeSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BridgeSnapshot{
		Lines:    make(map[samples.Kind]uint64, len(b.counts)),
		BadLines: b.bad,
		Acks:     make(map[string]any, len(b.acks)),
		LastLine: b.lastLine,
	}
	for k, v := range b.counts {
		s.Lines[k] = v
	}
	for k, v := range b.acks {
		s.Acks[k] = v
	}
	return s
}

// Feed subscribes to mux and forwards decoded IMU, GPS and tick lines to
// out until ctx is done or the subscription is closed. Lines that fail to
// decode are counted and logged through throttle. state may be nil.
func Feed(ctx context.Context, mux SerialMuxInterface, out chan<- samples.Event, state *BridgeState, throttle *monitoring.Throttle) error {
	if state == nil {
		state = NewBridgeState()
	}
	if throttle == nil {
		throttle = monitoring.NewThrottle(5 * time.Second)
	}

	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			kind := samples.ClassifyLine(line)
			switch kind {
			case samples.KindAck:
				if err := state.handleAck(line); err != nil {
					throttle.Logf("bad-ack", "serialmux: failed to parse ack %q: %v", line, err)
				}
				state.record(kind, false)
				monitoring.Logf("serialmux: bridge ack %s", line)
				continue
			case samples.KindUnknown:
				state.record(kind, false)
				throttle.Logf("unknown-line", "serialmux: ignoring line %q", line)
				continue
			}

			ev, err := samples.Decode(line)
			if err != nil {
				state.record(kind, true)
				throttle.Logf("bad-line", "serialmux: dropping %s line: %v", kind, err)
				continue
			}
			state.record(kind, false)

			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
