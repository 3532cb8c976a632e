package hardware

import (
	"bytes"
	stderrors "errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// fakeSerialPort 读超时时返回 io.EOF，与 tarm/serial 行为一致
type fakeSerialPort struct {
	mu       sync.Mutex
	reads    [][]byte
	written  bytes.Buffer
	readErr  error
	writeErr error
	closed   bool
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.reads) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakeSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakeSerialPort) Close() error {
	p.closed = true
	return nil
}

func (p *fakeSerialPort) Flush() error {
	return nil
}

func TestSerialTransportSendReceive(t *testing.T) {
	port := &fakeSerialPort{reads: [][]byte{{ACK}}}
	tr := NewSerialTransport("/dev/ttyUSB0", port)

	require.NoError(t, tr.Send([]byte{ENQ}))
	assert.Equal(t, []byte{ENQ}, port.written.Bytes())

	data, err := tr.Receive(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{ACK}, data)
}

func TestSerialTransportTimeout(t *testing.T) {
	tr := NewSerialTransport("/dev/ttyUSB0", &fakeSerialPort{})

	start := time.Now()
	_, err := tr.Receive(10 * time.Millisecond)
	assert.True(t, errors.Is(err, errors.ErrSerialTimeout), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSerialTransportFailures(t *testing.T) {
	port := &fakeSerialPort{
		readErr:  stderrors.New("input/output error"),
		writeErr: stderrors.New("device removed"),
	}
	tr := NewSerialTransport("/dev/ttyUSB0", port)

	err := tr.Send([]byte("DI  "))
	assert.True(t, errors.Is(err, errors.ErrSerialPortWrite))
	assert.False(t, errors.IsRecoverable(err))

	_, err = tr.Receive(10 * time.Millisecond)
	assert.True(t, errors.Is(err, errors.ErrSerialPortRead))
	assert.False(t, errors.IsRecoverable(err))
}

func TestSerialTransportClose(t *testing.T) {
	port := &fakeSerialPort{}
	tr := NewSerialTransport("/dev/ttyUSB0", port)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, port.closed)
	assert.True(t, errors.Is(tr.Send([]byte{ENQ}), errors.ErrDeviceOffline))
}

func newTestConnector(cfg *config.SerialConfig, ports []PortInfo, openable map[string]bool) (*Connector, *[]string) {
	var opened []string
	c := NewConnector(cfg)
	c.list = func() ([]PortInfo, error) { return ports, nil }
	c.exists = func(path string) bool { return openable[path] }
	c.sleep = func(time.Duration) {}
	c.open = func(name string) (Transport, error) {
		opened = append(opened, name)
		if !openable[name] {
			return nil, errors.Newf(errors.ErrSerialPortOpen, "open %s", name)
		}
		return NewSerialTransport(name, &fakeSerialPort{}), nil
	}
	return c, &opened
}

func TestConnectorAutoDetect(t *testing.T) {
	cfg := config.Default().Serial
	ports := []PortInfo{{Name: "/dev/ttyS0"}, {Name: "/dev/ttyUSB0"}}
	c, opened := newTestConnector(&cfg, ports, map[string]bool{"/dev/ttyUSB0": true})

	tr, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", tr.Name())
	assert.Equal(t, []string{"/dev/ttyS0", "/dev/ttyUSB0"}, *opened)
}

func TestConnectorFallsBackToSimulator(t *testing.T) {
	cfg := config.Default().Serial

	c, _ := newTestConnector(&cfg, nil, nil)
	tr, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, SimulatorName, tr.Name())

	c, _ = newTestConnector(&cfg, []PortInfo{{Name: "/dev/ttyS0"}}, nil)
	tr, err = c.Connect()
	require.NoError(t, err)
	assert.Equal(t, SimulatorName, tr.Name())
}

func TestConnectorSimulateFlag(t *testing.T) {
	cfg := config.Default().Serial
	cfg.Simulate = true
	c, opened := newTestConnector(&cfg, []PortInfo{{Name: "/dev/ttyUSB0"}}, map[string]bool{"/dev/ttyUSB0": true})

	tr, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, SimulatorName, tr.Name())
	assert.Empty(t, *opened)
}

func TestConnectorExplicitPort(t *testing.T) {
	cfg := config.Default().Serial
	cfg.Port = "/dev/ttyACM0"

	c, _ := newTestConnector(&cfg, nil, map[string]bool{"/dev/ttyACM0": true})
	tr, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", tr.Name())

	c, _ = newTestConnector(&cfg, nil, nil)
	_, err = c.Connect()
	assert.True(t, errors.Is(err, errors.ErrDeviceOffline), "got %v", err)
}
