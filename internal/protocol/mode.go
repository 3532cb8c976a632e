package protocol

import (
	"fmt"
	"strings"
)

// Mode 点胶模式
type Mode int

const (
	ModeTimed  Mode = iota // 定时模式
	ModeSteady             // 稳态模式
)

// Toggle 返回切换后的模式
func (m Mode) Toggle() Mode {
	if m == ModeTimed {
		return ModeSteady
	}
	return ModeTimed
}

func (m Mode) String() string {
	if m == ModeSteady {
		return "steady"
	}
	return "timed"
}

// ParseMode 解析模式名称
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timed", "":
		return ModeTimed, nil
	case "steady":
		return ModeSteady, nil
	default:
		return ModeTimed, fmt.Errorf("unknown mode %q", s)
	}
}
