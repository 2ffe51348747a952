package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/samples"
	"github.com/banshee-data/egomotion/internal/timeutil"
)

// LineGenerator produces the bridge lines for one mock tick at now.
type LineGenerator func(now time.Time) []string

// MockSerialPort implements SerialPorter over a pipe fed by a generator.
// Commands written to it are logged.
type MockSerialPort struct {
	r    *io.PipeReader
	stop chan struct{}
	once sync.Once
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	monitoring.Logf("mock serial port received %q", bytes.TrimSpace(p))
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.once.Do(func() { close(m.stop) })
	return m.r.Close()
}

// NewMockSerialMux creates a SerialMux whose port emits gen's lines every
// interval on clock until the mux is closed.
func NewMockSerialMux(gen LineGenerator, clock timeutil.Clock, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{r: r, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-port.stop:
				return
			case now := <-ticker.C():
				for _, line := range gen(now) {
					if _, err := io.WriteString(w, line+"\n"); err != nil {
						return
					}
				}
			}
		}
	}()

	return NewSerialMux(port)
}

// ReplayRows cycles through recorded rows, re-stamping them to the mock
// clock. Each tick emits an IMU line and a tick line, plus a GPS line
// whenever the recorded fix changes. The recorded fix age is preserved.
func ReplayRows(rows []samples.Row) LineGenerator {
	var (
		i       int
		lastFix = -1.0
	)
	return func(now time.Time) []string {
		if len(rows) == 0 {
			return nil
		}
		row := rows[i]
		i = (i + 1) % len(rows)
		nowMs := float64(now.UnixMilli())

		var events []samples.Event
		if row.HasGPS && row.GPS.Timestamp != lastFix {
			lastFix = row.GPS.Timestamp
			gps := row.GPS
			gps.Timestamp = nowMs - (row.TimeMs - row.GPS.Timestamp)
			events = append(events, samples.Event{Kind: samples.KindGPS, TimeMs: gps.Timestamp, GPS: gps})
		}
		events = append(events,
			samples.Event{Kind: samples.KindIMU, TimeMs: nowMs, IMU: row.IMU},
			samples.Event{Kind: samples.KindTick, TimeMs: nowMs},
		)

		lines := make([]string, 0, len(events))
		for _, ev := range events {
			line, err := ev.Encode()
			if err != nil {
				continue
			}
			lines = append(lines, line)
		}
		return lines
	}
}

// TestableSerialPort implements SerialPorter with scripted reads and
// recorded writes.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuffer  *bytes.Buffer
	writeBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set.
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	closed   bool
	eof      bool
	readCond *sync.Cond
}

// NewTestableSerialPort creates a port whose reads block until data is
// added, EOF is signalled, or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{
		readBuffer:  bytes.NewBuffer(nil),
		writeBuffer: bytes.NewBuffer(nil),
	}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && !t.eof && t.readBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.readBuffer.Len() == 0 {
		return 0, io.EOF
	}
	return t.readBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}
	n, _ := t.writeBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.readCond.Broadcast()
	return nil
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuffer.Write(data)
	t.readCond.Broadcast()
}

// EOF makes reads return io.EOF once the queued data is consumed.
func (t *TestableSerialPort) EOF() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eof = true
	t.readCond.Broadcast()
}

// Written returns everything written to the port.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuffer.String()
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is returned from Open.
	Port SerialPorter
	// Error is returned by Open if set.
	Error error

	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Opts: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}
