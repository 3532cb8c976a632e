package hardware

import (
	"os"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/logger"
)

// PortInfo 串口信息
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// ListPorts 列出系统中的串口
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSerialPortOpen, "enumerate serial ports")
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if desc == "" {
			desc = "n/a"
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			Description:  desc,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Connector 按配置选择串口或模拟设备
type Connector struct {
	cfg    *config.SerialConfig
	logger *zap.Logger

	list   func() ([]PortInfo, error)
	open   func(name string) (Transport, error)
	exists func(path string) bool
	sleep  func(time.Duration)
}

// NewConnector 创建连接器
func NewConnector(cfg *config.SerialConfig) *Connector {
	c := &Connector{
		cfg:    cfg,
		logger: logger.GetModuleLogger("serial"),
		list:   ListPorts,
		exists: SerialPortExists,
		sleep:  time.Sleep,
	}
	c.open = func(name string) (Transport, error) {
		return OpenSerial(name, cfg)
	}
	return c
}

// Connect 打开传输层
//
// 指定串口时打开失败直接返回错误；自动探测时依次尝试每个串口，
// 全部失败则进入模拟模式。
func (c *Connector) Connect() (Transport, error) {
	if c.cfg.Simulate {
		c.logger.Info("Simulation mode enabled by configuration")
		return NewSimulator(), nil
	}

	if !c.cfg.AutoDetect() {
		if !c.exists(c.cfg.Port) {
			return nil, errors.Newf(errors.ErrDeviceOffline, "serial port %s does not exist", c.cfg.Port)
		}
		t, err := c.open(c.cfg.Port)
		if err != nil {
			return nil, err
		}
		c.settle()
		return t, nil
	}

	ports, err := c.list()
	if err != nil {
		c.logger.Warn("Port enumeration failed", zap.Error(err))
	}
	if len(ports) == 0 {
		c.logger.Warn("No serial ports found, entering simulation mode")
		return NewSimulator(), nil
	}

	for _, p := range ports {
		c.logger.Info("Found port", zap.String("port", p.Name), zap.String("description", p.Description))
	}
	for _, p := range ports {
		t, err := c.open(p.Name)
		if err != nil {
			c.logger.Warn("Failed to open port", zap.String("port", p.Name), zap.Error(err))
			continue
		}
		c.logger.Info("Connected", zap.String("port", p.Name))
		c.settle()
		return t, nil
	}

	c.logger.Warn("Could not open any serial port, entering simulation mode")
	return NewSimulator(), nil
}

func (c *Connector) settle() {
	if c.cfg.SettleDelay <= 0 {
		return
	}
	c.logger.Debug("Waiting for device", zap.Duration("settle_delay", c.cfg.SettleDelay))
	c.sleep(c.cfg.SettleDelay)
}
