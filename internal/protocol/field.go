package protocol

// Mnemonic 命令助记符（2字符ASCII）
type Mnemonic string

// 助记符定义
const (
	MnemonicDispense      Mnemonic = "DI" // 点胶开始/停止（稳态模式下再次发送即停止）
	MnemonicPressure      Mnemonic = "PS" // 设置点胶压力
	MnemonicVacuum        Mnemonic = "VS" // 设置真空度
	MnemonicToggleMode    Mnemonic = "TM" // 定时/稳态模式切换
	MnemonicTime          Mnemonic = "DS" // 设置点胶时间
	MnemonicPressureUnits Mnemonic = "E6" // 压力单位
	MnemonicVacuumUnits   Mnemonic = "E7" // 真空单位
	MnemonicReadMemory    Mnemonic = "E8" // 读取存储位置的压力/时间/真空
)

// 应答助记符
const (
	ReplySuccess = "A0"
	ReplyFailure = "A2"
)

// MnemonicWidth 无参数命令和单位命令的助记符字段宽度
const MnemonicWidth = 4

// Field 数值参数的取值范围和定宽格式
type Field struct {
	Name      string
	Unit      string
	Min       float64
	Max       float64
	Precision int  // 小数位数
	Integer   bool // 只接受整数

	// decimal 样式：助记符后右对齐的字段宽度（含分隔空格），0 表示不填充
	Width int

	// implied 样式：助记符填充宽度、数字前缀和数字位数
	Pad    int
	Prefix string
	Digits int
	// 数值小于 1 时的位数，0 表示同 Digits
	ShortDigits int
}

// 参数字段定义
var (
	PressureField = Field{
		Name: "pressure", Unit: "psi",
		Min: 0.0, Max: 100.0, Precision: 1,
		Width: 6,
		Pad:   MnemonicWidth, Digits: 4,
	}

	VacuumField = Field{
		Name: "vacuum", Unit: "inH2O",
		Min: 0.0, Max: 18.0, Precision: 1,
		Width: 6,
		Pad:   MnemonicWidth, Digits: 4,
	}

	TimeField = Field{
		Name: "time", Unit: "s",
		Min: 0.0, Max: 9.9999, Precision: 4,
		Width: 8,
		Pad:   MnemonicWidth, Prefix: "T", Digits: 5, ShortDigits: 4,
	}

	MemoryField = Field{
		Name: "memory location",
		Min:  0, Max: 399, Integer: true,
		Pad: 2, Digits: 3,
	}
)
