package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectHostLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	applyFetchDefaults(&cfg.Fetch)
	for i := range cfg.Hosts {
		applyHostDefaults(&cfg.Hosts[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Cache.Path != "" {
		absPath, err := filepath.Abs(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Cache.Path = absPath
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)

	v.SetDefault("Cache.Name", "default")
	v.SetDefault("Cache.MemoryCostLimit", 256*1024*1024)
	v.SetDefault("Cache.MemoryTrimInterval", "5s")
	v.SetDefault("Cache.MemoryPressureInterval", "10s")
	v.SetDefault("Cache.DiskTrimInterval", "60s")
	v.SetDefault("Cache.DiskAgeLimit", "168h")

	v.SetDefault("Fetch.Timeout", "15s")
	v.SetDefault("Fetch.MaxConcurrent", 6)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if trimmed := strings.TrimSpace(c.Name); trimmed == "" {
		c.Name = "default"
	} else {
		c.Name = trimmed
	}
	if c.MemoryTrimInterval.DurationValue() == 0 {
		c.MemoryTrimInterval = Duration(5 * time.Second)
	}
	if c.DiskTrimInterval.DurationValue() == 0 {
		c.DiskTrimInterval = Duration(time.Minute)
	}
	if c.MemoryPressureInterval.DurationValue() == 0 {
		c.MemoryPressureInterval = Duration(10 * time.Second)
	}
}

func applyFetchDefaults(f *FetchConfig) {
	if f.Timeout.DurationValue() == 0 {
		f.Timeout = Duration(15 * time.Second)
	}
	f.DefaultOptions = strings.ToLower(strings.TrimSpace(f.DefaultOptions))
	f.DefaultTransform = strings.ToLower(strings.TrimSpace(f.DefaultTransform))
}

func applyHostDefaults(h *HostConfig) {
	h.Pattern = strings.ToLower(strings.TrimSpace(h.Pattern))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectHostLevelPorts 拒绝在 [[Host]] 中写端口：规则只按主机名匹配。
func rejectHostLevelPorts(v *viper.Viper) error {
	raw := v.Get("Host")
	hosts, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range hosts {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupFold(m, "Port"); !exists {
			continue
		}
		pattern := fmt.Sprintf("#%d", idx)
		if rawPattern, ok := lookupFold(m, "Pattern"); ok {
			if s, ok := rawPattern.(string); ok && s != "" {
				pattern = s
			}
		}
		return newFieldError(hostField(pattern, "Port"), "不支持按端口匹配，请只填写主机名")
	}

	return nil
}

func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
