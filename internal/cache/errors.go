package cache

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示缓存不存在，属于正常的未命中结果。
var ErrNotFound = errors.New("cache entry not found")

// ErrClosed 表示缓存实例已关闭。
var ErrClosed = errors.New("cache closed")

// ErrUnsupportedValue 表示 Codec 无法编码给定的值类型。
var ErrUnsupportedValue = errors.New("unsupported cache value")

// IOError 包装磁盘层的读写删除失败，Op 描述失败阶段（read/write/index/remove...）。
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Key: key, Err: err}
}
