package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：监听端口与日志输出。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// CacheConfig 对应 [Cache] 段，限制项零值表示不限制。
type CacheConfig struct {
	Name string `mapstructure:"Name"`
	// Path 为空时使用用户缓存目录下的 pixelhub/<Name>。
	Path string `mapstructure:"Path"`

	MemoryCostLimit        int64    `mapstructure:"MemoryCostLimit"`
	MemoryCountLimit       int      `mapstructure:"MemoryCountLimit"`
	MemoryAgeLimit         Duration `mapstructure:"MemoryAgeLimit"`
	MemoryTrimInterval     Duration `mapstructure:"MemoryTrimInterval"`
	KeepMemoryOnWarning    bool     `mapstructure:"KeepMemoryOnWarning"`
	KeepMemoryOnBackground bool     `mapstructure:"KeepMemoryOnBackground"`
	// MemoryPressureLimit 是堆占用告警阈值（字节），0 表示取 GOMEMLIMIT 的 90%。
	MemoryPressureLimit    int64    `mapstructure:"MemoryPressureLimit"`
	MemoryPressureInterval Duration `mapstructure:"MemoryPressureInterval"`

	DiskCostLimit      int64    `mapstructure:"DiskCostLimit"`
	DiskCountLimit     int      `mapstructure:"DiskCountLimit"`
	DiskAgeLimit       Duration `mapstructure:"DiskAgeLimit"`
	DiskTrimInterval   Duration `mapstructure:"DiskTrimInterval"`
	FreeDiskSpaceLimit int64    `mapstructure:"FreeDiskSpaceLimit"`
	InlineThreshold    int      `mapstructure:"InlineThreshold"`
}

// FetchConfig 对应 [Fetch] 段，作为 Manager 的默认参数。
type FetchConfig struct {
	Timeout          Duration          `mapstructure:"Timeout"`
	MaxConcurrent    int               `mapstructure:"MaxConcurrent"`
	Username         string            `mapstructure:"Username"`
	Password         string            `mapstructure:"Password"`
	DefaultTransform string            `mapstructure:"DefaultTransform"`
	DefaultOptions   string            `mapstructure:"DefaultOptions"`
	Headers          map[string]string `mapstructure:"Headers"`
}

// HasCredentials 表示是否为所有上游配置了 Basic 凭证。
func (f FetchConfig) HasCredentials() bool {
	return f.Username != "" && f.Password != ""
}

// HostConfig 描述 [[Host]] 段：按主机名追加请求头或覆盖凭证。
// Pattern 是以 '.' 为分隔符的 glob，例如 "*.example.com" 或 "{img,cdn}.example.com"，
// 其中 * 不跨越域名层级。
type HostConfig struct {
	Pattern  string            `mapstructure:"Pattern"`
	Username string            `mapstructure:"Username"`
	Password string            `mapstructure:"Password"`
	Headers  map[string]string `mapstructure:"Headers"`
}

// Matches 判断 host（不含端口）是否命中该规则，大小写不敏感。
func (h HostConfig) Matches(host string) bool {
	pattern := strings.ToLower(strings.TrimSpace(h.Pattern))
	host = strings.ToLower(host)
	if pattern == "" {
		return false
	}
	if pattern == host {
		return true
	}
	g, err := compileHostPattern(pattern)
	if err != nil {
		return false
	}
	return g.Match(host)
}

func compileHostPattern(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern, '.')
}

// HasCredentials 表示该主机是否覆盖了凭证。
func (h HostConfig) HasCredentials() bool {
	return h.Username != "" && h.Password != ""
}

// AuthMode 输出当前主机的凭证模式，便于日志记录。
func (h HostConfig) AuthMode() string {
	if h.HasCredentials() {
		return "credentialed"
	}
	return "inherit"
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
	Fetch  FetchConfig  `mapstructure:"Fetch"`
	Hosts  []HostConfig `mapstructure:"Host"`
}

// HostFor 返回第一个匹配 host 的规则，规则按配置顺序生效。
func (c *Config) HostFor(host string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Matches(host) {
			return h, true
		}
	}
	return HostConfig{}, false
}

// CredentialModes 返回每条 Host 规则的凭证模式摘要，用于启动日志。
func CredentialModes(hosts []HostConfig) []string {
	result := make([]string, len(hosts))
	for i, h := range hosts {
		result[i] = fmt.Sprintf("%s:%s", h.Pattern, h.AuthMode())
	}
	return result
}
