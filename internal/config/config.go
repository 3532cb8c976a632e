package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wfunc/dispenser-ctl/internal/errors"
)

// Config 全局配置结构体
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Dispenser DispenserConfig `mapstructure:"dispenser"`
	Shell     ShellConfig     `mapstructure:"shell"`
	Database  DatabaseConfig  `mapstructure:"database"`
	History   HistoryConfig   `mapstructure:"history"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	Port        string        `mapstructure:"port"` // 为空或 "auto" 时自动探测
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"` // 打开串口后等待设备就绪
	Simulate    bool          `mapstructure:"simulate"`     // 模拟模式（不打开串口）
}

// ProtocolConfig 协议配置
type ProtocolConfig struct {
	Link         string        `mapstructure:"link"`    // framed | raw
	Profile      string        `mapstructure:"profile"` // decimal | implied
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`
	DataTimeout  time.Duration `mapstructure:"data_timeout"`
}

// DispenserConfig 点胶机配置
type DispenserConfig struct {
	InitialMode string `mapstructure:"initial_mode"` // timed | steady
}

// ShellConfig 交互终端配置
type ShellConfig struct {
	Prompt      string `mapstructure:"prompt"`
	HistoryFile string `mapstructure:"history_file"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// HistoryConfig 命令历史配置
type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// APIConfig 历史查询HTTP服务配置
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin 运行模式

	FeedInterval time.Duration `mapstructure:"feed_interval"` // 实时推送的轮询间隔
}

// Addr 监听地址
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// 命令行参数与配置键的对应关系
var flagKeys = map[string]string{
	"port":      "serial.port",
	"baud":      "serial.baud_rate",
	"simulate":  "serial.simulate",
	"link":      "protocol.link",
	"profile":   "protocol.profile",
	"log-level": "log.level",
	"db":        "database.dsn",
}

// Init 初始化配置
//
// flags 可以为 nil；非 nil 时已显式设置的参数覆盖配置文件和环境变量。
func Init(configPath string, flags *pflag.FlagSet) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("dispenser")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("DISPENSER")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if flags != nil {
			for name, key := range flagKeys {
				if f := flags.Lookup(name); f != nil {
					if err = v.BindPFlag(key, f); err != nil {
						err = errors.Wrapf(err, errors.ErrConfigLoad, "flag %s", name)
						return
					}
				}
			}
		}

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = errors.Wrap(err, errors.ErrConfigLoad)
				return
			}
			err = nil
		}

		c := &Config{}
		if err = v.Unmarshal(c); err != nil {
			err = errors.Wrap(err, errors.ErrConfigParse)
			return
		}
		if err = c.Validate(); err != nil {
			return
		}
		cfg = c
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 串口默认配置（Ultimus: 115200 8N1）
	v.SetDefault("serial.port", "auto")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.read_timeout", "10ms")
	v.SetDefault("serial.settle_delay", "2s")
	v.SetDefault("serial.simulate", false)

	// 协议默认配置
	v.SetDefault("protocol.link", "framed")
	v.SetDefault("protocol.profile", "decimal")
	v.SetDefault("protocol.reply_timeout", "500ms")
	v.SetDefault("protocol.data_timeout", "500ms")

	v.SetDefault("dispenser.initial_mode", "timed")

	v.SetDefault("shell.prompt", "Enter command: ")
	v.SetDefault("shell.history_file", ".dispenser_history")

	// 数据库默认配置
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/dispenser.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("history.retention_days", 90)

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.mode", "release")
	v.SetDefault("api.feed_interval", "1s")

	// 日志默认配置
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "dispenser.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验枚举型配置项
func (c *Config) Validate() error {
	switch c.Protocol.Link {
	case "framed", "raw":
	default:
		return errors.Newf(errors.ErrConfigValidate, "protocol.link must be framed or raw, got %q", c.Protocol.Link)
	}
	switch c.Protocol.Profile {
	case "decimal", "implied":
	default:
		return errors.Newf(errors.ErrConfigValidate, "protocol.profile must be decimal or implied, got %q", c.Protocol.Profile)
	}
	switch c.Dispenser.InitialMode {
	case "timed", "steady":
	default:
		return errors.Newf(errors.ErrConfigValidate, "dispenser.initial_mode must be timed or steady, got %q", c.Dispenser.InitialMode)
	}
	if c.Serial.BaudRate <= 0 {
		return errors.Newf(errors.ErrConfigValidate, "serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	return nil
}

// AutoDetect 是否需要自动探测串口
func (c SerialConfig) AutoDetect() bool {
	return c.Port == "" || strings.EqualFold(c.Port, "auto")
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("config reload failed: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("config reload rejected: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	v.WatchConfig()
}

// ConfigFileUsed 返回实际加载的配置文件路径
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// Default 返回只包含默认值的配置，不读取文件和环境变量
func Default() *Config {
	dv := viper.New()
	setDefaults(dv)
	c := &Config{}
	_ = dv.Unmarshal(c)
	return c
}
