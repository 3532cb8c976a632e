package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// Profile 数值字段的渲染样式
type Profile int

const (
	// ProfileDecimal 带小数点，右对齐到定宽字段：PS  50.0
	ProfileDecimal Profile = iota
	// ProfileImplied 隐含小数点的定位数字：PS  0500
	ProfileImplied
)

func (p Profile) String() string {
	if p == ProfileImplied {
		return "implied"
	}
	return "decimal"
}

// ParseProfile 解析样式名称
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(s) {
	case "decimal", "":
		return ProfileDecimal, nil
	case "implied":
		return ProfileImplied, nil
	default:
		return ProfileDecimal, fmt.Errorf("unknown profile %q", s)
	}
}

// Encoder 命令编码器
//
// 编码结果只取决于 (助记符, 参数值, 样式)，校验失败时不产生任何输出。
type Encoder struct {
	profile Profile
}

// NewEncoder 创建编码器
func NewEncoder(profile Profile) *Encoder {
	return &Encoder{profile: profile}
}

// Profile 当前样式
func (e *Encoder) Profile() Profile {
	return e.profile
}

// Encode 按默认 decimal 样式编码数值命令
func Encode(m Mnemonic, value float64, f Field) ([]byte, error) {
	return NewEncoder(ProfileDecimal).Encode(m, value, f)
}

// EncodeEnum 编码单位命令
func EncodeEnum(m Mnemonic, unitName string, table *UnitTable) ([]byte, error) {
	return NewEncoder(ProfileDecimal).EncodeEnum(m, unitName, table)
}

// EncodeBare 编码无参数命令
func EncodeBare(m Mnemonic) []byte {
	return []byte(padRight(string(m), MnemonicWidth))
}

// Encode 校验并编码数值命令
func (e *Encoder) Encode(m Mnemonic, value float64, f Field) ([]byte, error) {
	if err := f.Check(value); err != nil {
		return nil, err
	}
	// 避免 -0 渲染出负号
	if value == 0 {
		value = 0
	}

	var b strings.Builder
	switch e.profile {
	case ProfileImplied:
		b.WriteString(padRight(string(m), f.Pad))
		b.WriteString(f.Prefix)
		scaled := int64(math.Round(value * math.Pow10(f.Precision)))
		digits := f.Digits
		if f.ShortDigits > 0 && scaled < int64(math.Pow10(f.Precision)) {
			digits = f.ShortDigits
		}
		b.WriteString(fmt.Sprintf("%0*d", digits, scaled))
	default:
		b.WriteString(string(m))
		b.WriteString(padLeft(strconv.FormatFloat(value, 'f', f.Precision, 64), f.Width))
	}
	return []byte(b.String()), nil
}

// EncodeInt 编码整数参数命令
func (e *Encoder) EncodeInt(m Mnemonic, value int, f Field) ([]byte, error) {
	return e.Encode(m, float64(value), f)
}

// EncodeEnum 将单位名称编码为助记符加代码
func (e *Encoder) EncodeEnum(m Mnemonic, unitName string, table *UnitTable) ([]byte, error) {
	code, ok := table.Code(unitName)
	if !ok {
		return nil, errors.Newf(errors.ErrUnknownUnit,
			"%s unit %q, must be one of %s", table.Kind, unitName, strings.Join(table.Names(), ", "))
	}
	return []byte(padRight(string(m), MnemonicWidth) + code), nil
}

// Check 校验参数是否在取值范围内
func (f Field) Check(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < f.Min || value > f.Max {
		return errors.Newf(errors.ErrRange, "%s %s must be between %s and %s%s",
			f.Name, strconv.FormatFloat(value, 'g', -1, 64),
			f.format(f.Min), f.format(f.Max), f.unitSuffix())
	}
	if f.Integer && value != math.Trunc(value) {
		return errors.Newf(errors.ErrInvalidArgument, "%s must be an integer, got %v", f.Name, value)
	}
	return nil
}

// Parse 解析命令行参数并校验
func (f Field) Parse(s string) (float64, error) {
	if f.Integer {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, errors.Newf(errors.ErrInvalidArgument, "%s must be an integer, got %q", f.Name, s)
		}
		return float64(n), f.Check(float64(n))
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrInvalidArgument, "%s must be a number, got %q", f.Name, s)
	}
	return v, f.Check(v)
}

func (f Field) format(v float64) string {
	return strconv.FormatFloat(v, 'f', f.Precision, 64)
}

func (f Field) unitSuffix() string {
	if f.Unit == "" {
		return ""
	}
	return " " + f.Unit
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
