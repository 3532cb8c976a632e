package protocol

import (
	"fmt"
	"strconv"

	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// ReadReplyLen E8 数据应答长度：D0PDppppDTtttttVCvvvv
const ReadReplyLen = 21

// ReadValues 存储位置中的压力/时间/真空
type ReadValues struct {
	Pressure float64 `json:"pressure"`
	Time     float64 `json:"time"`
	Vacuum   float64 `json:"vacuum"`
}

func (v ReadValues) String() string {
	return fmt.Sprintf("pressure=%.1f time=%.4f vacuum=%.1f", v.Pressure, v.Time, v.Vacuum)
}

// 应答中各字段的标签和位置
var readLayout = []struct {
	tag    string
	offset int
	digits int
	scale  float64
}{
	{"D0", 0, 0, 0},
	{"PD", 2, 4, 10},
	{"DT", 8, 5, 10000},
	{"VC", 15, 4, 10},
}

// DecodeReadReply 解析 E8 数据应答
func DecodeReadReply(data []byte) (ReadValues, error) {
	var v ReadValues
	if len(data) != ReadReplyLen {
		return v, errors.Newf(errors.ErrMalformedReply,
			"read reply length %d, want %d: %q", len(data), ReadReplyLen, data)
	}
	s := string(data)

	values := make([]float64, 0, 3)
	for _, f := range readLayout {
		if s[f.offset:f.offset+2] != f.tag {
			return v, errors.Newf(errors.ErrMalformedReply,
				"read reply missing %s at offset %d: %q", f.tag, f.offset, s)
		}
		if f.digits == 0 {
			continue
		}
		raw := s[f.offset+2 : f.offset+2+f.digits]
		n, err := parseDigits(raw)
		if err != nil {
			return v, errors.Wrapf(err, errors.ErrMalformedReply, "read reply field %s %q", f.tag, raw)
		}
		values = append(values, float64(n)/f.scale)
	}

	v.Pressure, v.Time, v.Vacuum = values[0], values[1], values[2]
	return v, nil
}

// EncodeReadReply 生成 E8 数据应答（模拟设备使用）
func EncodeReadReply(v ReadValues) []byte {
	return []byte(fmt.Sprintf("D0PD%04dDT%05dVC%04d",
		scaled(v.Pressure, 10), scaled(v.Time, 10000), scaled(v.Vacuum, 10)))
}

func parseDigits(s string) (int, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit %q", c)
		}
	}
	return strconv.Atoi(s)
}

func scaled(v, scale float64) int {
	n := int(v*scale + 0.5)
	if n < 0 {
		return 0
	}
	return n
}
