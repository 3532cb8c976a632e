package protocol

import (
	"sort"
	"strings"

	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// ArgKind 命令参数类型
type ArgKind int

const (
	ArgNone  ArgKind = iota // 无参数
	ArgFloat                // 浮点数
	ArgInt                  // 整数
	ArgUnit                 // 单位枚举
)

// Command 用户命令定义
type Command struct {
	Name        string
	Mnemonic    Mnemonic
	Kind        ArgKind
	Field       Field
	Units       *UnitTable
	Read        bool // 设备会返回数据包
	Optional    bool // 参数可省略，省略时取 Default
	Default     string
	TogglesMode bool
	Usage       string
	Description string
}

// Request 编码完成的命令
type Request struct {
	Command *Command
	Arg     string
	Value   float64
	Payload []byte
}

var catalog = []*Command{
	{
		Name: "start", Mnemonic: MnemonicDispense, Kind: ArgNone,
		Usage: "start", Description: "Start a dispense cycle",
	},
	{
		Name: "stop", Mnemonic: MnemonicDispense, Kind: ArgNone,
		Usage: "stop", Description: "Stop dispensing (steady mode)",
	},
	{
		Name: "pressure", Mnemonic: MnemonicPressure, Kind: ArgFloat, Field: PressureField,
		Usage: "pressure <0.0-100.0>", Description: "Set dispense pressure",
	},
	{
		Name: "vacuum", Mnemonic: MnemonicVacuum, Kind: ArgFloat, Field: VacuumField,
		Usage: "vacuum <0.0-18.0>", Description: "Set vacuum",
	},
	{
		Name: "toggle_mode", Mnemonic: MnemonicToggleMode, Kind: ArgNone, TogglesMode: true,
		Usage: "toggle_mode", Description: "Toggle between timed and steady mode",
	},
	{
		Name: "time", Mnemonic: MnemonicTime, Kind: ArgFloat, Field: TimeField,
		Usage: "time <0.0000-9.9999>", Description: "Set dispense time in seconds",
	},
	{
		Name: "read_values", Mnemonic: MnemonicReadMemory, Kind: ArgInt, Field: MemoryField,
		Read: true, Optional: true, Default: "0",
		Usage: "read_values [0-399]", Description: "Read pressure, time and vacuum of a memory location",
	},
	{
		Name: "set_pressure_units", Mnemonic: MnemonicPressureUnits, Kind: ArgUnit, Units: PressureUnits,
		Usage: "set_pressure_units <" + strings.Join(PressureUnits.Names(), "|") + ">", Description: "Set pressure units",
	},
	{
		Name: "set_vacuum_units", Mnemonic: MnemonicVacuumUnits, Kind: ArgUnit, Units: VacuumUnits,
		Usage: "set_vacuum_units <" + strings.Join(VacuumUnits.Names(), "|") + ">", Description: "Set vacuum units",
	},
}

var catalogByName = func() map[string]*Command {
	m := make(map[string]*Command, len(catalog))
	for _, s := range catalog {
		m[s.Name] = s
	}
	return m
}()

// Lookup 按名称查找命令
func Lookup(name string) (*Command, bool) {
	s, ok := catalogByName[strings.ToLower(name)]
	return s, ok
}

// Commands 返回全部命令（协议顺序）
func Commands() []*Command {
	out := make([]*Command, len(catalog))
	copy(out, catalog)
	return out
}

// Names 返回排序后的命令名
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, s := range catalog {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Build 解析参数并编码用户命令
func (e *Encoder) Build(name string, args []string) (*Request, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, errors.Newf(errors.ErrUnknownCommand, "unknown command %q", name)
	}

	req := &Request{Command: def}
	if def.Kind == ArgNone {
		if len(args) > 0 {
			return nil, errors.Newf(errors.ErrInvalidArgument, "usage: %s", def.Usage)
		}
		req.Payload = EncodeBare(def.Mnemonic)
		return req, nil
	}

	switch {
	case len(args) == 0 && def.Optional:
		req.Arg = def.Default
	case len(args) == 1:
		req.Arg = args[0]
	default:
		return nil, errors.Newf(errors.ErrInvalidArgument, "usage: %s", def.Usage)
	}

	var err error
	if def.Kind == ArgUnit {
		req.Payload, err = e.EncodeEnum(def.Mnemonic, req.Arg, def.Units)
		if err != nil {
			return nil, err
		}
		return req, nil
	}

	if req.Value, err = def.Field.Parse(req.Arg); err != nil {
		return nil, err
	}
	if req.Payload, err = e.Encode(def.Mnemonic, req.Value, def.Field); err != nil {
		return nil, err
	}
	return req, nil
}
