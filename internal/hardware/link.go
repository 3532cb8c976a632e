package hardware

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
)

// LinkMode 链路模式
type LinkMode int

const (
	LinkFramed LinkMode = iota // ENQ/ACK 握手 + 数据包
	LinkRaw                    // 直接写命令字节
)

func (m LinkMode) String() string {
	if m == LinkRaw {
		return "raw"
	}
	return "framed"
}

// ParseLinkMode 解析链路模式
func ParseLinkMode(s string) (LinkMode, error) {
	switch strings.ToLower(s) {
	case "framed", "":
		return LinkFramed, nil
	case "raw":
		return LinkRaw, nil
	default:
		return LinkFramed, fmt.Errorf("unknown link mode %q", s)
	}
}

// rawIdleGap raw 模式下收到首个字节后，超过该间隔无数据即认为应答结束
const rawIdleGap = 20 * time.Millisecond

// LinkConfig 链路配置
type LinkConfig struct {
	Mode         LinkMode
	ReplyTimeout time.Duration
	DataTimeout  time.Duration
}

// NewLinkConfig 从协议配置创建链路配置
func NewLinkConfig(cfg *config.ProtocolConfig) (LinkConfig, error) {
	mode, err := ParseLinkMode(cfg.Link)
	if err != nil {
		return LinkConfig{}, err
	}
	return LinkConfig{
		Mode:         mode,
		ReplyTimeout: cfg.ReplyTimeout,
		DataTimeout:  cfg.DataTimeout,
	}, nil
}

// Response 一次命令交换的结果
type Response struct {
	Packet  []byte        // 编码后的命令字节
	Sent    bool          // 命令字节已写到传输层
	Reply   string        // A0 / A2，raw 模式下为原始应答
	Data    []byte        // 读命令返回的数据
	Latency time.Duration // 发送到应答的往返时间
}

// Link 命令交换
type Link struct {
	transport Transport
	cfg       LinkConfig
	logger    *zap.Logger
}

// NewLink 创建链路
func NewLink(t Transport, cfg LinkConfig) *Link {
	return &Link{
		transport: t,
		cfg:       cfg,
		logger:    logger.GetModuleLogger("serial"),
	}
}

// Transport 底层传输
func (l *Link) Transport() Transport {
	return l.transport
}

// Mode 链路模式
func (l *Link) Mode() LinkMode {
	return l.cfg.Mode
}

// Exchange 发送命令并等待应答
//
// read 为 true 时在 A0 之后继续读取数据包。返回的 Response 在出错时也包含
// 已知的部分信息。
func (l *Link) Exchange(payload []byte, read bool) (*Response, error) {
	if l.cfg.Mode == LinkRaw {
		return l.exchangeRaw(payload, read)
	}
	return l.exchangeFramed(payload, read)
}

func (l *Link) exchangeFramed(payload []byte, read bool) (*Response, error) {
	resp := &Response{Packet: NewPacket(payload).ToBytes()}
	start := time.Now()

	if err := l.transport.Send([]byte{ENQ}); err != nil {
		return resp, err
	}
	if err := l.expectACK(); err != nil {
		return resp, err
	}

	if err := l.transport.Send(resp.Packet); err != nil {
		return resp, err
	}
	resp.Sent = true

	reply, err := l.receivePacket(l.cfg.ReplyTimeout)
	resp.Latency = time.Since(start)
	if err != nil {
		return resp, err
	}
	resp.Reply = reply.Command()

	switch resp.Reply {
	case protocol.ReplySuccess:
	case protocol.ReplyFailure:
		l.endOfTransmission()
		return resp, errors.Newf(errors.ErrCommandFailed, "device answered %s to %q", resp.Reply, payload)
	default:
		l.endOfTransmission()
		return resp, errors.Newf(errors.ErrInvalidResponse, "unexpected reply %q", reply.Payload)
	}

	if read {
		if err := l.transport.Send([]byte{ACK}); err != nil {
			return resp, err
		}
		data, err := l.receivePacket(l.cfg.DataTimeout)
		resp.Latency = time.Since(start)
		if err != nil {
			l.endOfTransmission()
			return resp, err
		}
		resp.Data = data.Payload
	}

	if err := l.transport.Send([]byte{EOT}); err != nil {
		return resp, err
	}
	return resp, nil
}

func (l *Link) exchangeRaw(payload []byte, read bool) (*Response, error) {
	resp := &Response{Packet: append([]byte(nil), payload...)}
	start := time.Now()

	if err := l.transport.Send(payload); err != nil {
		return resp, err
	}
	resp.Sent = true

	var buf []byte
	timeout := l.cfg.ReplyTimeout
	for {
		chunk, err := l.transport.Receive(timeout)
		if err != nil {
			if errors.Is(err, errors.ErrSerialTimeout) {
				break
			}
			return resp, err
		}
		if len(buf) == 0 {
			resp.Latency = time.Since(start)
		}
		buf = append(buf, chunk...)
		timeout = rawIdleGap
	}
	if len(buf) == 0 {
		resp.Latency = time.Since(start)
	}

	resp.Reply = string(buf)
	if strings.HasPrefix(resp.Reply, protocol.ReplyFailure) {
		return resp, errors.Newf(errors.ErrCommandFailed, "device answered %s to %q", protocol.ReplyFailure, payload)
	}
	if read {
		resp.Data = []byte(strings.TrimPrefix(resp.Reply, protocol.ReplySuccess))
	}
	return resp, nil
}

func (l *Link) expectACK() error {
	data, err := l.transport.Receive(l.cfg.ReplyTimeout)
	if err != nil {
		if errors.Is(err, errors.ErrSerialTimeout) {
			return errors.New(errors.ErrNoAck, "no answer to ENQ").WithCause(err)
		}
		return err
	}
	for _, b := range data {
		if b == ACK {
			return nil
		}
	}
	return errors.Newf(errors.ErrNoAck, "expected ACK, got % X", data)
}

// receivePacket 累积接收直到得到完整的包
func (l *Link) receivePacket(timeout time.Duration) (*Packet, error) {
	var buf []byte
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Newf(errors.ErrSerialTimeout, "incomplete reply % X", buf)
		}
		chunk, err := l.transport.Receive(remaining)
		if err != nil {
			if errors.Is(err, errors.ErrSerialTimeout) && len(buf) > 0 {
				return nil, errors.Newf(errors.ErrInvalidResponse, "incomplete reply % X", buf).WithCause(err)
			}
			return nil, err
		}
		buf = append(buf, chunk...)

		pkt, n, err := ParsePacket(buf)
		switch {
		case err == nil:
			return pkt, nil
		case stderrors.Is(err, errIncompletePacket):
			buf = buf[n:]
		default:
			l.logger.Warn("Invalid reply packet", zap.Binary("data", buf), zap.Error(err))
			return nil, err
		}
	}
}

func (l *Link) endOfTransmission() {
	if err := l.transport.Send([]byte{EOT}); err != nil {
		l.logger.Warn("Failed to send EOT", zap.Error(err))
	}
}
