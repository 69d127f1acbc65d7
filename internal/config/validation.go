package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pixelhub/pixelhub/internal/fetch"
	"github.com/pixelhub/pixelhub/internal/transform"
)

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
	"fatal": {},
	"panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedLogLevels[strings.ToLower(g.LogLevel)]; !ok {
		return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error/fatal/panic")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}

	if err := validateCache(c.Cache); err != nil {
		return err
	}
	if err := validateFetch(c.Fetch); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	for i := range c.Hosts {
		if err := validateHost(c.Hosts[i]); err != nil {
			return err
		}
		if _, exists := seen[c.Hosts[i].Pattern]; exists {
			return newFieldError(hostField(c.Hosts[i].Pattern, "Pattern"), "重复")
		}
		seen[c.Hosts[i].Pattern] = struct{}{}
	}

	return nil
}

func validateCache(c CacheConfig) error {
	if strings.ContainsAny(c.Name, `/\`) {
		return newFieldError("Cache.Name", "不允许包含路径分隔符")
	}
	if c.MemoryCostLimit < 0 {
		return newFieldError("Cache.MemoryCostLimit", "不能为负数")
	}
	if c.MemoryCountLimit < 0 {
		return newFieldError("Cache.MemoryCountLimit", "不能为负数")
	}
	if c.MemoryAgeLimit.DurationValue() < 0 {
		return newFieldError("Cache.MemoryAgeLimit", "不能为负数")
	}
	if c.MemoryTrimInterval.DurationValue() <= 0 {
		return newFieldError("Cache.MemoryTrimInterval", "必须大于 0")
	}
	if c.MemoryPressureLimit < 0 {
		return newFieldError("Cache.MemoryPressureLimit", "不能为负数")
	}
	if c.DiskCostLimit < 0 {
		return newFieldError("Cache.DiskCostLimit", "不能为负数")
	}
	if c.DiskCountLimit < 0 {
		return newFieldError("Cache.DiskCountLimit", "不能为负数")
	}
	if c.DiskAgeLimit.DurationValue() < 0 {
		return newFieldError("Cache.DiskAgeLimit", "不能为负数")
	}
	if c.DiskTrimInterval.DurationValue() <= 0 {
		return newFieldError("Cache.DiskTrimInterval", "必须大于 0")
	}
	if c.FreeDiskSpaceLimit < 0 {
		return newFieldError("Cache.FreeDiskSpaceLimit", "不能为负数")
	}
	return nil
}

func validateFetch(f FetchConfig) error {
	if f.Timeout.DurationValue() <= 0 {
		return newFieldError("Fetch.Timeout", "必须大于 0")
	}
	if f.MaxConcurrent < 0 {
		return newFieldError("Fetch.MaxConcurrent", "不能为负数")
	}
	if (f.Username == "") != (f.Password == "") {
		return newFieldError("Fetch.Username/Password", "必须同时提供或同时留空")
	}
	if _, err := fetch.ParseOptions(f.DefaultOptions); err != nil {
		return newFieldError("Fetch.DefaultOptions", err.Error())
	}
	if _, err := transform.Lookup(f.DefaultTransform); err != nil {
		return newFieldError("Fetch.DefaultTransform", err.Error())
	}
	if err := validateHeaders(f.Headers); err != nil {
		return fmt.Errorf("Fetch.Headers: %w", err)
	}
	return nil
}

func validateHost(h HostConfig) error {
	if h.Pattern == "" {
		return newFieldError("Host[].Pattern", "不能为空")
	}
	if strings.Contains(h.Pattern, "://") {
		return newFieldError(hostField(h.Pattern, "Pattern"), "不应包含协议头")
	}
	if strings.Contains(h.Pattern, "/") {
		return newFieldError(hostField(h.Pattern, "Pattern"), "不允许包含路径")
	}
	if _, err := compileHostPattern(h.Pattern); err != nil {
		return newFieldError(hostField(h.Pattern, "Pattern"), "通配符语法错误")
	}
	if (h.Username == "") != (h.Password == "") {
		return newFieldError(hostField(h.Pattern, "Username/Password"), "必须同时提供或同时留空")
	}
	if err := validateHeaders(h.Headers); err != nil {
		return fmt.Errorf("%s: %w", hostField(h.Pattern, "Headers"), err)
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	for name := range headers {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " :\r\n") {
			return fmt.Errorf("非法的请求头名称 %q", name)
		}
		if fetch.IsHopByHopHeader(name) {
			return fmt.Errorf("不允许设置 hop-by-hop 头 %q", name)
		}
	}
	return nil
}
