package protocol

import "strings"

// Unit 单位名称与协议代码
type Unit struct {
	Name string
	Code string
}

// UnitTable 封闭的单位枚举
type UnitTable struct {
	Kind  string
	units []Unit
}

// NewUnitTable 创建单位表，名称按小写存储
func NewUnitTable(kind string, units ...Unit) *UnitTable {
	t := &UnitTable{Kind: kind}
	for _, u := range units {
		t.units = append(t.units, Unit{Name: strings.ToLower(u.Name), Code: u.Code})
	}
	return t
}

// Code 查找单位代码，名称不区分大小写
func (t *UnitTable) Code(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, u := range t.units {
		if u.Name == name {
			return u.Code, true
		}
	}
	return "", false
}

// Name 按代码反查单位名称
func (t *UnitTable) Name(code string) (string, bool) {
	for _, u := range t.units {
		if u.Code == code {
			return u.Name, true
		}
	}
	return "", false
}

// Names 按协议顺序返回所有单位名称
func (t *UnitTable) Names() []string {
	names := make([]string, len(t.units))
	for i, u := range t.units {
		names[i] = u.Name
	}
	return names
}

// 单位表
var (
	PressureUnits = NewUnitTable("pressure",
		Unit{"psi", "00"},
		Unit{"bar", "01"},
		Unit{"kpa", "02"},
	)

	VacuumUnits = NewUnitTable("vacuum",
		Unit{"kpa", "00"},
		Unit{"inches_h2o", "01"},
		Unit{"inches_hg", "02"},
		Unit{"mmhg", "03"},
		Unit{"torr", "04"},
	)
)
