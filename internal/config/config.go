package config

import (
	"os"
	"strings"
)

import (
	"gopkg.in/yaml.v3"
)

// ServerCfg —— HTTP 服务配置
type ServerCfg struct {
	HTTPAddr            string `yaml:"httpAddr"`            // 监听地址，例如 ":8080"
	MetricsPath         string `yaml:"metricsPath"`         // Prometheus endpoint, default "/metrics"
	ReadHeaderTimeoutMs int    `yaml:"readHeaderTimeoutMs"` // default 5000
	ShutdownTimeoutMs   int    `yaml:"shutdownTimeoutMs"`   // graceful shutdown budget, default 5000
	MaxReadBytes        int64  `yaml:"maxReadBytes"`        // upper bound for one GET /v1/yes
	StreamChunkBytes    int    `yaml:"streamChunkBytes"`    // bytes per device read when streaming
}

// DeviceCfg —— yes 设备配置
type DeviceCfg struct {
	MaxBuf          int `yaml:"maxBuf"`          // expansion buffer ceiling, default one page
	MaxPatternBytes int `yaml:"maxPatternBytes"` // largest accepted pattern write
}

// AllocLimit is the largest expansion buffer the device may allocate: a
// maximal pattern plus its newline, or maxBuf, whichever is larger.
func (d DeviceCfg) AllocLimit() int {
	return max(d.MaxPatternBytes+1, d.MaxBuf)
}

// RedisCfg —— Redis 连接配置，仅用于模式广播
type RedisCfg struct {
	Addr               string   `yaml:"addr"`               // Redis address, e.g. "127.0.0.1:6379"
	Addrs              []string `yaml:"addrs"`              // Optional cluster addresses
	Password           string   `yaml:"password"`           // Redis password
	DB                 int      `yaml:"db"`                 // Redis DB index
	Prefix             string   `yaml:"prefix"`             // Channel prefix
	UpdatesChannel     string   `yaml:"updatesChannel"`     // Pub/Sub channel for pattern updates
	PoolSize           int      `yaml:"poolSize"`           // Connection pool size
	MinIdleConns       int      `yaml:"minIdleConns"`       // Minimum idle connections
	MaxRetries         int      `yaml:"maxRetries"`         // Command retry count
	ReadTimeoutMs      int      `yaml:"readTimeoutMs"`      // Read timeout (ms)
	WriteTimeoutMs     int      `yaml:"writeTimeoutMs"`     // Write timeout (ms)
	DialTimeoutMs      int      `yaml:"dialTimeoutMs"`      // Dial timeout (ms)
	ConnMaxIdleTimeSec int      `yaml:"connMaxIdleTimeSec"` // Max idle time (sec)
}

// Enabled reports whether any redis address is configured.
func (r RedisCfg) Enabled() bool {
	return len(r.Addrs) > 0 || strings.TrimSpace(r.Addr) != ""
}

// WatchCfg - file backed pattern source
type WatchCfg struct {
	PatternFile string `yaml:"patternFile"` // empty disables the watcher
	DebounceMs  int    `yaml:"debounceMs"`  // default 500
}

func (w WatchCfg) Enabled() bool {
	return w.PatternFile != ""
}

// ThrottleCfg —— 写入限流
type ThrottleCfg struct {
	WriteQPS float64 `yaml:"writeQPS"` // <=0 表示不限制
	LogDir   string  `yaml:"logDir"`   // sentinel log directory
}

type LogCfg struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Config —— 全量配置
type Config struct {
	Server   ServerCfg   `yaml:"server"`
	Device   DeviceCfg   `yaml:"device"`
	Redis    RedisCfg    `yaml:"redis"`
	Watch    WatchCfg    `yaml:"watch"`
	Throttle ThrottleCfg `yaml:"throttle"`
	Log      LogCfg      `yaml:"log"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.ReadHeaderTimeoutMs <= 0 {
		c.Server.ReadHeaderTimeoutMs = 5000
	}
	if c.Server.ShutdownTimeoutMs <= 0 {
		c.Server.ShutdownTimeoutMs = 5000
	}
	if c.Server.MaxReadBytes <= 0 {
		c.Server.MaxReadBytes = 64 << 20
	}
	if c.Server.StreamChunkBytes <= 0 {
		c.Server.StreamChunkBytes = 32 << 10
	}
	if c.Device.MaxBuf <= 0 {
		c.Device.MaxBuf = os.Getpagesize()
	}
	if c.Device.MaxPatternBytes <= 0 {
		c.Device.MaxPatternBytes = 1 << 20
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "pixiu:yes"
	}
	if c.Redis.UpdatesChannel == "" {
		c.Redis.UpdatesChannel = "pattern_updates"
	}
	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = 500
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Load —— 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(b))
	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}
