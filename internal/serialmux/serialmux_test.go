package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("RATE GPS 5"))
	require.NoError(t, mux.SendCommand("FORMAT JSON\n"))
	assert.Equal(t, "RATE GPS 5\nFORMAT JSON\n", port.Written())

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("CLOCK 0"), ErrWriteFailed)
	port.ShortWrite = false

	boom := errors.New("boom")
	port.WriteError = boom
	assert.ErrorIs(t, mux.SendCommand("CLOCK 0"), boom)
}

func TestInitialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

	require.NoError(t, mux.Initialize())
	assert.Equal(t, "CLOCK 1700000000123\nRATE IMU 100\nRATE GPS 10\nFORMAT JSON\n", port.Written())
}

func TestInitialize_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	mux := NewSerialMux(port)

	err := mux.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to synchronize clock")
}

func TestMonitor_FansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	port.AddReadData([]byte("{\"kind\":\"tick\",\"t_ms\":1}\nOK\n"))
	port.EOF()
	require.NoError(t, mux.Monitor(context.Background()))

	for _, ch := range []chan string{a, b} {
		require.Len(t, ch, 2)
		assert.Equal(t, `{"kind":"tick","t_ms":1}`, <-ch)
		assert.Equal(t, "OK", <-ch)
	}
}

func TestMonitor_ContextCancelled(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	require.NoError(t, mux.Close())
}

func TestUnsubscribeAndClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	mux.Unsubscribe(id)

	_, ch = mux.Subscribe()
	require.NoError(t, mux.Close())
	_, open = <-ch
	assert.False(t, open)
	assert.True(t, port.Closed())
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	assert.NoError(t, d.Initialize())
	assert.NoError(t, d.SendCommand("RATE IMU 100"))

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, open = <-ch
	assert.False(t, open)
	require.NoError(t, d.Close())

	_, ch = d.Subscribe()
	_, open = <-ch
	assert.False(t, open, "subscribing after close yields a closed channel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
}

func TestOpenSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	opts := PortOptions{BaudRate: 57600}

	mux, err := OpenSerialMux(factory, "/dev/ttyUSB0", opts)
	require.NoError(t, err)
	require.NoError(t, mux.SendCommand("FORMAT JSON"))
	assert.Equal(t, "FORMAT JSON\n", port.Written())
	require.Len(t, factory.OpenCalls, 1)
	assert.Equal(t, MockOpenCall{Path: "/dev/ttyUSB0", Opts: opts}, factory.OpenCalls[0])

	factory.Error = errors.New("no such device")
	_, err = OpenSerialMux(factory, "/dev/ttyUSB1", opts)
	assert.Error(t, err)
}
