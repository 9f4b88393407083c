package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	App       AppConfig       `mapstructure:"config"`
	Server    ServerConfig    `mapstructure:"server"`
	Collector CollectorConfig `mapstructure:"collector"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Log       LogConfig       `mapstructure:"log"`
	Events    EventsConfig    `mapstructure:"events"`

	// 配置文件实际路径（未加载文件时为空）
	File string `mapstructure:"-"`
}

// AppConfig 原 app.json 的 config 段
type AppConfig struct {
	DebugFile  string `mapstructure:"debug_file"`
	DevicePath string `mapstructure:"device_path"`
	SSHConfig  string `mapstructure:"ssh_config"`
	KnownHosts string `mapstructure:"known_hosts"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SimulateFile 非空时随服务启动一台模拟设备，便于联调
	SimulateFile string `mapstructure:"simulate_file"`
}

// CollectorConfig 执行配置
type CollectorConfig struct {
	// Concurrent 设备并发数，1 表示按顺序逐台执行
	Concurrent int `mapstructure:"concurrent"`
	// DefaultPlatform 设备未指定平台时使用
	DefaultPlatform string `mapstructure:"default_platform"`
	// OutputFilter 保存 show-tech 前的行过滤（移除分页提示等）
	OutputFilter OutputFilterConfig `mapstructure:"output_filter"`
}

// OutputFilterConfig 输出过滤器配置
type OutputFilterConfig struct {
	Prefixes        []string `mapstructure:"prefixes"`
	Contains        []string `mapstructure:"contains"`
	CaseInsensitive bool     `mapstructure:"case_insensitive"`
	TrimSpace       bool     `mapstructure:"trim_space"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置，Path 为空时不记录运行历史
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 制品镜像存储
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置，Host 为空时不启用镜像
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Secure    bool   `mapstructure:"secure"`
}

// SSHConfig SSH会话配置
type SSHConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`
	QuietAfter      time.Duration `mapstructure:"quiet_after"`
	// RunTimeout 整批运行的上限，0 表示不限制
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// HostKeyPolicy accept-new | strict | insecure
	HostKeyPolicy string `mapstructure:"host_key_policy"`
	Port          int    `mapstructure:"port"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// EventsConfig 设备结果事件发布，NatsURL 为空时不发布
type EventsConfig struct {
	NatsURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// Load 加载配置文件；configPath 为空时只使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	// 设置默认值
	setDefaults(v)

	// 设置环境变量前缀
	v.SetEnvPrefix("CISCOFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.File = configPath

	config.App.DevicePath = expandHome(config.App.DevicePath)
	config.App.SSHConfig = expandHome(config.App.SSHConfig)
	config.App.KnownHosts = expandHome(config.App.KnownHosts)
	config.App.DebugFile = expandHome(config.App.DebugFile)

	if config.Collector.Concurrent < 1 {
		config.Collector.Concurrent = 1
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config.debug_file", "ciscofetch.debug")
	v.SetDefault("config.device_path", "devices")
	v.SetDefault("config.ssh_config", "~/.ssh/config")
	v.SetDefault("config.known_hosts", "~/.ssh/known_hosts")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)

	// 默认顺序执行，与原工具一致
	v.SetDefault("collector.concurrent", 1)
	v.SetDefault("collector.default_platform", "cisco_ios")
	v.SetDefault("collector.output_filter.case_insensitive", true)
	v.SetDefault("collector.output_filter.trim_space", true)
	v.SetDefault("collector.output_filter.contains", []string{"--more--"})

	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.command_timeout", 30*time.Second)
	v.SetDefault("ssh.poll_interval", 250*time.Millisecond)
	v.SetDefault("ssh.max_poll_interval", 2*time.Second)
	v.SetDefault("ssh.quiet_after", 500*time.Millisecond)
	v.SetDefault("ssh.run_timeout", 0)
	v.SetDefault("ssh.host_key_policy", "accept-new")
	v.SetDefault("ssh.port", 22)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "logs/ciscofetch.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)

	v.SetDefault("events.subject", "ciscofetch.device")
}

// Template 返回 --new app 生成的模板内容
func Template() map[string]interface{} {
	return map[string]interface{}{
		"config": map[string]interface{}{
			"debug_file":  "ciscofetch.debug",
			"device_path": "devices",
			"ssh_config":  "~/.ssh/config",
		},
	}
}

// WriteTemplate 将模板写入文件；目标文件已存在时返回错误，不覆盖
func WriteTemplate(path string, data interface{}) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	bs, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append(bs, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
