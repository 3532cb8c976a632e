package hardware

import (
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
)

// Result 命令执行结果
type Result struct {
	Request  *protocol.Request
	Response *Response
	Values   *protocol.ReadValues // 仅读命令
}

// Dispenser 点胶机控制器
type Dispenser struct {
	link    *Link
	encoder *protocol.Encoder
	logger  *zap.Logger
}

// NewDispenser 创建控制器
func NewDispenser(link *Link, encoder *protocol.Encoder) *Dispenser {
	return &Dispenser{
		link:    link,
		encoder: encoder,
		logger:  logger.GetModuleLogger("protocol"),
	}
}

// Encoder 命令编码器
func (d *Dispenser) Encoder() *protocol.Encoder {
	return d.encoder
}

// Link 命令链路
func (d *Dispenser) Link() *Link {
	return d.link
}

// Build 编码命令但不发送
func (d *Dispenser) Build(name string, args []string) (*protocol.Request, error) {
	req, err := d.encoder.Build(name, args)
	if err != nil {
		d.logger.Debug("Command rejected", zap.String("command", name), zap.Strings("args", args), zap.Error(err))
		return nil, err
	}
	return req, nil
}

// Execute 发送已编码的命令，读命令同时解析应答
//
// 出错时 Result 仍然返回，供调用方记录延迟和应答。
func (d *Dispenser) Execute(req *protocol.Request) (*Result, error) {
	result := &Result{Request: req}

	resp, err := d.link.Exchange(req.Payload, req.Command.Read)
	result.Response = resp

	reply := ""
	if resp != nil {
		reply = resp.Reply
		logger.LogSerialCommand(string(req.Payload), reply, resp.Latency, err == nil)
	}
	if err != nil {
		return result, err
	}

	if req.Command.Read {
		values, err := protocol.DecodeReadReply(resp.Data)
		if err != nil {
			d.logger.Warn("Read reply rejected", zap.ByteString("data", resp.Data), zap.Error(err))
			return result, err
		}
		result.Values = &values
	}
	return result, nil
}

// Run 编码并执行命令
func (d *Dispenser) Run(name string, args []string) (*Result, error) {
	req, err := d.Build(name, args)
	if err != nil {
		return nil, err
	}
	return d.Execute(req)
}

// Close 关闭底层传输
func (d *Dispenser) Close() error {
	return d.link.Transport().Close()
}
