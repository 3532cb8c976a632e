package hardware

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
)

// SimulatorName 模拟设备的传输层名称
const SimulatorName = "simulator"

// Simulator 内存中的模拟点胶机
//
// 应答握手、数据包和 E8 读取；按存储位置保存最近一次设置的压力/时间/真空，
// 只在进程内有效。
type Simulator struct {
	mu     sync.Mutex
	out    []byte
	closed bool
	logger *zap.Logger

	memory      map[int]protocol.ReadValues
	location    int
	pendingRead bool
	dispensing  bool
	mode        protocol.Mode
	units       map[protocol.Mnemonic]string

	sent [][]byte
}

// NewSimulator 创建模拟设备
func NewSimulator() *Simulator {
	return &Simulator{
		logger: logger.GetModuleLogger("serial").With(zap.String("port", SimulatorName)),
		memory: make(map[int]protocol.ReadValues),
		units: map[protocol.Mnemonic]string{
			protocol.MnemonicPressureUnits: "00",
			protocol.MnemonicVacuumUnits:   "01",
		},
	}
}

// Name 传输层名称
func (s *Simulator) Name() string {
	return SimulatorName
}

// Send 接收主机发送的字节并准备应答
func (s *Simulator) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrDeviceOffline, SimulatorName)
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	s.logger.Debug("Simulated TX", zap.ByteString("data", data))

	switch {
	case len(data) == 1 && data[0] == ENQ:
		s.out = append(s.out, ACK)
	case len(data) == 1 && data[0] == ACK:
		if s.pendingRead {
			s.pendingRead = false
			reply := protocol.EncodeReadReply(s.memory[s.location])
			s.out = append(s.out, NewPacket(reply).ToBytes()...)
		}
	case len(data) == 1 && data[0] == EOT:
		s.pendingRead = false
	case len(data) > 0 && data[0] == STX:
		pkt, _, err := ParsePacket(data)
		if err != nil {
			s.logger.Warn("Simulated device rejected packet", zap.Error(err))
			s.out = append(s.out, NewPacket([]byte(protocol.ReplyFailure)).ToBytes()...)
			return nil
		}
		code, _ := s.handle(pkt.Payload)
		s.out = append(s.out, NewPacket([]byte(code)).ToBytes()...)
	default:
		// 未封包的原始命令
		code, read := s.handle(data)
		s.out = append(s.out, code...)
		if read && code == protocol.ReplySuccess {
			s.pendingRead = false
			s.out = append(s.out, protocol.EncodeReadReply(s.memory[s.location])...)
		}
	}
	return nil
}

// Receive 返回已准备好的应答
func (s *Simulator) Receive(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrDeviceOffline, SimulatorName)
	}
	if len(s.out) == 0 {
		return nil, errors.Newf(errors.ErrSerialTimeout, "no data from %s within %s", SimulatorName, timeout)
	}
	out := s.out
	s.out = nil
	return out, nil
}

// Close 关闭模拟设备
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetValues 预置存储位置的值
func (s *Simulator) SetValues(location int, v protocol.ReadValues) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[location] = v
}

// Values 存储位置的当前值
func (s *Simulator) Values(location int) protocol.ReadValues {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory[location]
}

// Mode 设备侧模式
func (s *Simulator) Mode() protocol.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Dispensing 稳态模式下是否正在点胶
func (s *Simulator) Dispensing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispensing
}

// Unit 当前单位代码
func (s *Simulator) Unit(m protocol.Mnemonic) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[m]
}

// Sent 主机发送过的全部数据
func (s *Simulator) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// handle 执行命令，返回应答码以及是否为读命令
func (s *Simulator) handle(payload []byte) (string, bool) {
	if len(payload) < 2 {
		return protocol.ReplyFailure, false
	}
	m := protocol.Mnemonic(payload[:2])
	arg := strings.TrimSpace(string(payload[2:]))

	switch m {
	case protocol.MnemonicDispense:
		if s.mode == protocol.ModeSteady {
			s.dispensing = !s.dispensing
		}
	case protocol.MnemonicToggleMode:
		s.mode = s.mode.Toggle()
		s.dispensing = false
	case protocol.MnemonicPressure, protocol.MnemonicVacuum, protocol.MnemonicTime:
		field := map[protocol.Mnemonic]protocol.Field{
			protocol.MnemonicPressure: protocol.PressureField,
			protocol.MnemonicVacuum:   protocol.VacuumField,
			protocol.MnemonicTime:     protocol.TimeField,
		}[m]
		v, ok := parseSimValue(arg, field)
		if !ok {
			return protocol.ReplyFailure, false
		}
		values := s.memory[s.location]
		switch m {
		case protocol.MnemonicPressure:
			values.Pressure = v
		case protocol.MnemonicVacuum:
			values.Vacuum = v
		default:
			values.Time = v
		}
		s.memory[s.location] = values
	case protocol.MnemonicPressureUnits, protocol.MnemonicVacuumUnits:
		table := protocol.PressureUnits
		if m == protocol.MnemonicVacuumUnits {
			table = protocol.VacuumUnits
		}
		if _, ok := table.Name(arg); !ok {
			return protocol.ReplyFailure, false
		}
		s.units[m] = arg
	case protocol.MnemonicReadMemory:
		n, err := strconv.Atoi(arg)
		if err != nil || protocol.MemoryField.Check(float64(n)) != nil {
			return protocol.ReplyFailure, true
		}
		s.location = n
		s.pendingRead = true
		return protocol.ReplySuccess, true
	default:
		return protocol.ReplyFailure, false
	}
	return protocol.ReplySuccess, false
}

// parseSimValue 同时接受带小数点和隐含小数点两种写法
func parseSimValue(arg string, f protocol.Field) (float64, bool) {
	if f.Prefix != "" {
		arg = strings.TrimPrefix(arg, f.Prefix)
	}
	var v float64
	if strings.Contains(arg, ".") {
		parsed, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	} else {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return 0, false
		}
		v = float64(n) / math.Pow10(f.Precision)
	}
	return v, f.Check(v) == nil
}
