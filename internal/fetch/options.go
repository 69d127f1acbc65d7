package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/transform"
)

// Options 是按位组合的请求选项。
type Options uint32

const (
	// OptionShowNetworkActivity 在传输期间计入网络活动指示器。
	OptionShowNetworkActivity Options = 1 << iota
	// OptionProgressive 在下载过程中以 StageProgress 交付部分数据。
	OptionProgressive
	// OptionProgressiveBlur 由展示层解释，核心流程只透传。
	OptionProgressiveBlur
	// OptionUseURLCache 跳过本缓存的读写，交给 HTTP 层自身的缓存。
	OptionUseURLCache
	// OptionAllowInvalidTLS 使用跳过证书校验的客户端。
	OptionAllowInvalidTLS
	// OptionAllowBackground 由宿主解释，核心流程只透传。
	OptionAllowBackground
	// OptionHandleCookies 使用带 cookie jar 的客户端。
	OptionHandleCookies
	// OptionRefresh 跳过缓存检查，强制走网络并覆盖缓存。
	OptionRefresh
	// OptionIgnoreDiskCache 只查询与写入内存层。
	OptionIgnoreDiskCache
	OptionIgnorePlaceholder
	// OptionIgnoreDecoding 只探测格式与尺寸，不解码像素。
	OptionIgnoreDecoding
	// OptionIgnoreAnimated 动图只保留首帧。
	OptionIgnoreAnimated
	OptionFadeIn
	OptionAvoidSetImage
	// OptionIgnoreFailedURL 失败的 URL 进入黑名单，后续请求直接失败。
	OptionIgnoreFailedURL
)

var optionNames = []struct {
	option Options
	name   string
}{
	{OptionShowNetworkActivity, "show-activity"},
	{OptionProgressive, "progressive"},
	{OptionProgressiveBlur, "progressive-blur"},
	{OptionUseURLCache, "use-url-cache"},
	{OptionAllowInvalidTLS, "allow-invalid-tls"},
	{OptionAllowBackground, "allow-background"},
	{OptionHandleCookies, "handle-cookies"},
	{OptionRefresh, "refresh"},
	{OptionIgnoreDiskCache, "skip-disk"},
	{OptionIgnorePlaceholder, "skip-placeholder"},
	{OptionIgnoreDecoding, "skip-decoding"},
	{OptionIgnoreAnimated, "skip-animated"},
	{OptionFadeIn, "fade-in"},
	{OptionAvoidSetImage, "avoid-set"},
	{OptionIgnoreFailedURL, "denylist-on-failure"},
}

// Has reports whether every bit in flag is set.
func (o Options) Has(flag Options) bool {
	return o&flag == flag
}

func (o Options) String() string {
	if o == 0 {
		return ""
	}
	var parts []string
	for _, item := range optionNames {
		if o.Has(item.option) {
			parts = append(parts, item.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseOptions 解析逗号分隔的选项名，例如 "refresh,skip-disk"。
func ParseOptions(raw string) (Options, error) {
	var result Options
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		found := false
		for _, item := range optionNames {
			if item.name == name {
				result |= item.option
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown fetch option %q", name)
		}
	}
	return result, nil
}

// Provenance 表示结果来自哪一层。
type Provenance int

const (
	ProvenanceNone Provenance = iota
	// ProvenanceMemoryFast 是 Request 在调用方 goroutine 上同步命中内存层。
	ProvenanceMemoryFast
	ProvenanceMemory
	ProvenanceDisk
	ProvenanceRemote
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceMemoryFast:
		return "memory-fast"
	case ProvenanceMemory:
		return "memory"
	case ProvenanceDisk:
		return "disk"
	case ProvenanceRemote:
		return "remote"
	default:
		return "none"
	}
}

// Stage 是完成回调的阶段。
type Stage int

const (
	StageProgress  Stage = -1
	StageCancelled Stage = 0
	StageFinished  Stage = 1
)

func (s Stage) String() string {
	switch s {
	case StageProgress:
		return "progress"
	case StageCancelled:
		return "cancelled"
	default:
		return "finished"
	}
}

// State 是 Operation 的生命周期状态。
type State int

const (
	StateReady State = iota
	StateExecuting
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "ready"
	}
}

// ProgressFunc 在每个数据块到达时调用；expected 未知时为 -1。
type ProgressFunc func(received, expected int64, u *url.URL)

// CompletionFunc 在 StageProgress 时可能多次调用，终态（StageFinished/StageCancelled）恰好一次。
type CompletionFunc func(img *imaging.Image, u *url.URL, from Provenance, stage Stage, err error)

// TransformFunc 与 transform.Func 相同，请求级设置覆盖 Manager 默认值。
type TransformFunc = transform.Func
