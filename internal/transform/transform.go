package transform

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pixelhub/pixelhub/internal/imaging"
)

// Func 在解码之后、写入缓存之前对图片做转换。返回 nil 图片视为失败。
type Func func(img *imaging.Image, u *url.URL) (*imaging.Image, error)

// Transform 描述一个已注册的转换。
type Transform struct {
	Key         string
	Description string
	Apply       Func
}

// Chain 依次执行多个转换，任一步失败即返回。
func Chain(funcs ...Func) Func {
	return func(img *imaging.Image, u *url.URL) (*imaging.Image, error) {
		current := img
		for _, fn := range funcs {
			if fn == nil {
				continue
			}
			next, err := fn(current, u)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, fmt.Errorf("transform returned nil image")
			}
			current = next
		}
		return current, nil
	}
}

// Lookup 解析逗号分隔的转换键列表（如 "thumbnail,grayscale"），返回组合后的 Func。
// 空字符串返回 nil。
func Lookup(keys string) (Func, error) {
	var funcs []Func
	for _, key := range strings.Split(keys, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		t, ok := Resolve(key)
		if !ok {
			return nil, fmt.Errorf("unknown transform %q", key)
		}
		funcs = append(funcs, t.Apply)
	}
	switch len(funcs) {
	case 0:
		return nil, nil
	case 1:
		return funcs[0], nil
	default:
		return Chain(funcs...), nil
	}
}
