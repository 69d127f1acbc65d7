// Package imaging defines the image value carried through the fetch
// pipeline and the decoder contract used to turn downloaded bytes into it.
package imaging

import (
	"errors"
	"image"
)

// ErrUnknownFormat 表示字节流不是已注册的图片格式。
var ErrUnknownFormat = errors.New("unknown image format")

// Image 是 fetch 流水线与缓存之间传递的图片值。Data 始终保存原始（或转换后重新编码的）字节，
// Decoded 在未跳过解码时保存首帧。
type Image struct {
	Data    []byte
	Format  string
	Width   int
	Height  int
	Frames  int
	Decoded image.Image
	// Partial 标记渐进式下载中途产生的不完整图片。
	Partial bool
}

// Cost 是图片在缓存中的开销，取字节长度。
func (img *Image) Cost() int64 {
	if img == nil {
		return 0
	}
	return int64(len(img.Data))
}

// DecodeOptions 控制解码深度。
type DecodeOptions struct {
	// SkipDecoding 只探测格式与尺寸，不解码像素。
	SkipDecoding bool
	// SingleFrame 对动图只保留首帧。
	SingleFrame bool
}

// Decoder 把字节解码为 Image。
type Decoder interface {
	Decode(data []byte, opts DecodeOptions) (*Image, error)
}
