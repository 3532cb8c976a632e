package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// reset 允许同一进程内多次 Init
func reset(t *testing.T) {
	t.Helper()
	once = sync.Once{}
	cfg, v = nil, nil
	t.Cleanup(func() {
		once = sync.Once{}
		cfg, v = nil, nil
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispenser.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, "auto", c.Serial.Port)
	assert.True(t, c.Serial.AutoDetect())
	assert.Equal(t, 115200, c.Serial.BaudRate)
	assert.Equal(t, 2*time.Second, c.Serial.SettleDelay)
	assert.Equal(t, "framed", c.Protocol.Link)
	assert.Equal(t, "decimal", c.Protocol.Profile)
	assert.Equal(t, 500*time.Millisecond, c.Protocol.ReplyTimeout)
	assert.Equal(t, "timed", c.Dispenser.InitialMode)
	assert.Equal(t, "Enter command: ", c.Shell.Prompt)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, 90, c.History.RetentionDays)
	assert.Equal(t, "127.0.0.1:8090", c.API.Addr())
	assert.NoError(t, c.Validate())
}

func TestInitPrecedence(t *testing.T) {
	reset(t)
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB0
  baud_rate: 9600
protocol:
  link: raw
  profile: decimal
dispenser:
  initial_mode: steady
`)
	t.Setenv("DISPENSER_PROTOCOL_PROFILE", "implied")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "", "")
	flags.Int("baud", 115200, "")
	require.NoError(t, flags.Parse([]string{"--port", "/dev/ttyACM1"}))

	require.NoError(t, Init(path, flags))
	c := Get()

	assert.Equal(t, "/dev/ttyACM1", c.Serial.Port, "explicit flag wins")
	assert.False(t, c.Serial.AutoDetect())
	assert.Equal(t, 9600, c.Serial.BaudRate, "unset flag keeps file value")
	assert.Equal(t, "implied", c.Protocol.Profile, "env beats file")
	assert.Equal(t, "raw", c.Protocol.Link)
	assert.Equal(t, "steady", c.Dispenser.InitialMode)
	assert.Equal(t, 500*time.Millisecond, c.Protocol.DataTimeout)
	assert.Equal(t, path, ConfigFileUsed())
	assert.Equal(t, "raw", GetString("protocol.link"))
}

func TestInitInvalid(t *testing.T) {
	reset(t)
	path := writeConfig(t, "protocol:\n  link: serial\n")

	err := Init(path, nil)
	assert.True(t, errors.Is(err, errors.ErrConfigValidate), "got %v", err)
	assert.Nil(t, cfg)
}

func TestInitMissingFile(t *testing.T) {
	reset(t)
	err := Init(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.True(t, errors.Is(err, errors.ErrConfigLoad), "got %v", err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"link", func(c *Config) { c.Protocol.Link = "usb" }},
		{"profile", func(c *Config) { c.Protocol.Profile = "binary" }},
		{"mode", func(c *Config) { c.Dispenser.InitialMode = "pulse" }},
		{"baud", func(c *Config) { c.Serial.BaudRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			assert.True(t, errors.Is(err, errors.ErrConfigValidate), "got %v", err)
		})
	}
}

func TestAutoDetect(t *testing.T) {
	assert.True(t, SerialConfig{}.AutoDetect())
	assert.True(t, SerialConfig{Port: "AUTO"}.AutoDetect())
	assert.False(t, SerialConfig{Port: "COM3"}.AutoDetect())
}
