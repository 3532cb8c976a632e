package hardware

import (
	"io"
	"time"
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// Transport 传输层协作者
//
// Receive 在超时前至少返回一个字节，否则返回 ErrSerialTimeout。
type Transport interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
	Name() string
}
