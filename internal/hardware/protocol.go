package hardware

import (
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// 控制字符
const (
	STX byte = 0x02 // 包起始
	ETX byte = 0x03 // 包结束
	EOT byte = 0x04 // 传输结束
	ENQ byte = 0x05 // 询问
	ACK byte = 0x06 // 确认
)

// MinPacketLen 最小包长度：STX(1) + 长度(2) + 命令(2) + 校验(2) + ETX(1)
const MinPacketLen = 8

// MaxPayloadLen 长度字段为两位十六进制
const MaxPayloadLen = 0xFF

var errIncompletePacket = stderrors.New("incomplete packet")

// Packet Ultimus 数据包
//
// 格式：STX | LEN(2位十六进制) | 命令+数据 | CHK(2位十六进制) | ETX
type Packet struct {
	Payload []byte
}

// NewPacket 创建数据包
func NewPacket(payload []byte) *Packet {
	return &Packet{Payload: payload}
}

// Command 两字符命令或应答码
func (p *Packet) Command() string {
	if len(p.Payload) < 2 {
		return string(p.Payload)
	}
	return string(p.Payload[:2])
}

// Data 命令后的数据部分
func (p *Packet) Data() []byte {
	if len(p.Payload) <= 2 {
		return nil
	}
	return p.Payload[2:]
}

// ToBytes 将包转换为字节数组
func (p *Packet) ToBytes() []byte {
	length := fmt.Sprintf("%02X", len(p.Payload))

	buf := make([]byte, 0, len(p.Payload)+MinPacketLen-2)
	buf = append(buf, STX)
	buf = append(buf, length...)
	buf = append(buf, p.Payload...)

	chk := CalculateChecksum(buf[1:])
	buf = append(buf, fmt.Sprintf("%02X", chk)...)
	buf = append(buf, ETX)
	return buf
}

// CalculateChecksum 长度字段和命令数据的 ASCII 和取补
func CalculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

// ParsePacket 从缓冲区解析第一个完整的包
//
// STX 之前的噪声字节被跳过。返回值 n 为已消费的字节数。
func ParsePacket(buf []byte) (pkt *Packet, n int, err error) {
	start := -1
	for i, b := range buf {
		if b == STX {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, len(buf), errIncompletePacket
	}

	rest := buf[start:]
	if len(rest) < 3 {
		return nil, start, errIncompletePacket
	}

	size, perr := strconv.ParseUint(string(rest[1:3]), 16, 8)
	if perr != nil {
		return nil, start + 1, errors.Newf(errors.ErrInvalidResponse, "bad length field %q", rest[1:3])
	}

	total := 1 + 2 + int(size) + 2 + 1
	if len(rest) < total {
		return nil, start, errIncompletePacket
	}

	if rest[total-1] != ETX {
		return nil, start + total, errors.Newf(errors.ErrInvalidResponse,
			"missing ETX, got 0x%02X", rest[total-1])
	}

	body := rest[1 : 3+size]
	want := CalculateChecksum(body)
	got, perr := strconv.ParseUint(string(rest[3+size:5+size]), 16, 8)
	if perr != nil || byte(got) != want {
		return nil, start + total, errors.Newf(errors.ErrInvalidResponse,
			"checksum mismatch: got %q, want %02X", rest[3+size:5+size], want)
	}

	payload := make([]byte, size)
	copy(payload, rest[3:3+size])
	return NewPacket(payload), start + total, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{%q, % X}", p.Payload, p.ToBytes())
}
