package hardware

import (
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/logger"
)

const pollInterval = time.Millisecond

// SerialTransport 基于串口的传输层
type SerialTransport struct {
	name   string
	port   SerialPort
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// NewSerialTransport 包装已打开的串口
func NewSerialTransport(name string, port SerialPort) *SerialTransport {
	return &SerialTransport{
		name:   name,
		port:   port,
		logger: logger.GetModuleLogger("serial"),
	}
}

// OpenSerial 按配置打开串口
func OpenSerial(name string, cfg *config.SerialConfig) (*SerialTransport, error) {
	sc := &serial.Config{
		Name:        name,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		StopBits:    stopBits(cfg.StopBits),
		Parity:      parity(cfg.Parity),
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(sc)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "open %s", name)
	}

	t := NewSerialTransport(name, port)
	t.logger.Info("Serial port opened",
		zap.String("port", name),
		zap.Int("baudrate", cfg.BaudRate),
		zap.Int("data_bits", cfg.DataBits),
		zap.String("parity", cfg.Parity),
		zap.Int("stop_bits", cfg.StopBits))
	return t, nil
}

// Name 串口名称
func (t *SerialTransport) Name() string {
	return t.name
}

// Send 写入全部字节
func (t *SerialTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New(errors.ErrDeviceOffline, t.name)
	}

	for written := 0; written < len(data); {
		n, err := t.port.Write(data[written:])
		if err != nil {
			return errors.Wrapf(err, errors.ErrSerialPortWrite, "write %s", t.name)
		}
		if n == 0 {
			return errors.Newf(errors.ErrSerialPortWrite, "write %s: zero bytes written", t.name)
		}
		written += n
	}

	t.logger.Debug("TX", zap.String("port", t.name), zap.Binary("data", data))
	return nil
}

// Receive 读取超时前到达的数据
//
// 串口读超时返回 io.EOF 或零字节，视为暂无数据继续等待。
func (t *SerialTransport) Receive(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New(errors.ErrDeviceOffline, t.name)
	}

	buf := make([]byte, 256)
	deadline := time.Now().Add(timeout)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			t.logger.Debug("RX", zap.String("port", t.name), zap.Binary("data", out))
			return out, nil
		}
		if err != nil && !stderrors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, errors.ErrSerialPortRead, "read %s", t.name)
		}
		if !time.Now().Before(deadline) {
			return nil, errors.Newf(errors.ErrSerialTimeout, "no data from %s within %s", t.name, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// Close 关闭串口
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.port.Close(); err != nil {
		t.logger.Error("Failed to close serial port", zap.String("port", t.name), zap.Error(err))
		return err
	}
	t.logger.Info("Serial port closed", zap.String("port", t.name))
	return nil
}

func stopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.Stop2
	}
	return serial.Stop1
}

func parity(p string) serial.Parity {
	switch strings.ToUpper(p) {
	case "O", "ODD":
		return serial.ParityOdd
	case "E", "EVEN":
		return serial.ParityEven
	default:
		return serial.ParityNone
	}
}
