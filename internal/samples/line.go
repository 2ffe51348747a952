// Package samples decodes the sensor bridge's line protocol and reads and
// writes recorded drive logs.
//
// The bridge emits one JSON object per line:
//
//	{"kind":"imu","t_ms":1000,"ax":0.1,"ay":0.0,"yaw":1.5}
//	{"kind":"gps","t_ms":980,"vx":12.3,"vy":0.1}
//	{"kind":"tick","t_ms":1000}
//
// Command acknowledgements ({"kind":"ack",...}) and anything that is not a
// JSON object are classified but carry no samples.
package samples

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/egomotion/internal/egomotion"
)

// Kind classifies a bridge line.
type Kind string

const (
	KindIMU     Kind = "imu"
	KindGPS     Kind = "gps"
	KindTick    Kind = "tick"
	KindAck     Kind = "ack"
	KindUnknown Kind = "unknown"
)

var (
	// ErrUnknownKind is returned by Decode for lines that carry no sample.
	ErrUnknownKind = errors.New("unknown line kind")
	// ErrMissingField is returned by Decode when a required field is absent.
	ErrMissingField = errors.New("missing field")
)

// Event is one decoded bridge line. Only the sample matching Kind is set.
type Event struct {
	Kind   Kind
	TimeMs float64
	IMU    egomotion.ImuSample
	GPS    egomotion.GpsSample
}

type wireLine struct {
	Kind   string   `json:"kind"`
	TimeMs *float64 `json:"t_ms,omitempty"`
	AX     *float64 `json:"ax,omitempty"`
	AY     *float64 `json:"ay,omitempty"`
	Yaw    *float64 `json:"yaw,omitempty"`
	VX     *float64 `json:"vx,omitempty"`
	VY     *float64 `json:"vy,omitempty"`
}

// ClassifyLine returns the kind of a bridge line without validating its fields.
func ClassifyLine(line string) Kind {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return KindUnknown
	}
	var w struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return KindUnknown
	}
	switch k := Kind(w.Kind); k {
	case KindIMU, KindGPS, KindTick, KindAck:
		return k
	}
	return KindUnknown
}

// Decode parses an IMU, GPS or tick line.
func Decode(line string) (Event, error) {
	var w wireLine
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &w); err != nil {
		return Event{}, fmt.Errorf("failed to parse line: %w", err)
	}

	kind := Kind(w.Kind)
	switch kind {
	case KindIMU, KindGPS, KindTick:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
	}
	if w.TimeMs == nil {
		return Event{}, fmt.Errorf("%w: t_ms", ErrMissingField)
	}

	ev := Event{Kind: kind, TimeMs: *w.TimeMs}
	switch kind {
	case KindIMU:
		if w.AX == nil || w.AY == nil || w.Yaw == nil {
			return Event{}, fmt.Errorf("%w: imu line needs ax, ay and yaw", ErrMissingField)
		}
		ev.IMU = egomotion.ImuSample{AccelX: *w.AX, AccelY: *w.AY, YawRate: *w.Yaw}
	case KindGPS:
		if w.VX == nil || w.VY == nil {
			return Event{}, fmt.Errorf("%w: gps line needs vx and vy", ErrMissingField)
		}
		ev.GPS = egomotion.GpsSample{Timestamp: *w.TimeMs, VelocityX: *w.VX, VelocityY: *w.VY}
	}
	return ev, nil
}

// Encode renders ev as a bridge line without a trailing newline.
func (ev Event) Encode() (string, error) {
	t := ev.TimeMs
	w := wireLine{Kind: string(ev.Kind), TimeMs: &t}
	switch ev.Kind {
	case KindIMU:
		w.AX, w.AY, w.Yaw = &ev.IMU.AccelX, &ev.IMU.AccelY, &ev.IMU.YawRate
	case KindGPS:
		w.VX, w.VY = &ev.GPS.VelocityX, &ev.GPS.VelocityY
	case KindTick:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s line: %w", ev.Kind, err)
	}
	return string(b), nil
}
