package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 描述一个缓存实例的位置与限额，供启动与清理日志复用。
func CacheFields(name, path string, memoryCostLimit, diskCostLimit int64) logrus.Fields {
	return logrus.Fields{
		"cache":             name,
		"cache_path":        path,
		"memory_cost_limit": memoryCostLimit,
		"disk_cost_limit":   diskCostLimit,
	}
}

// FetchFields 提供 url/缓存键/来源字段，供 HTTP 抓取请求日志复用。
func FetchFields(rawURL, cacheKey, provenance, options string, status int) logrus.Fields {
	return logrus.Fields{
		"url":        rawURL,
		"cache_key":  cacheKey,
		"provenance": provenance,
		"options":    options,
		"status":     status,
	}
}
