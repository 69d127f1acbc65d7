package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// StdDecoder 基于 image 包的格式注册表解码 png/jpeg/gif/webp。
type StdDecoder struct{}

// Decode 实现 Decoder。gif 在未要求 SingleFrame 时解码全部帧以得到帧数。
func (StdDecoder) Decode(data []byte, opts DecodeOptions) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrUnknownFormat)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	img := &Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Frames: 1,
	}
	if opts.SkipDecoding {
		return img, nil
	}

	if format == "gif" && !opts.SingleFrame {
		anim, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode gif: %w", err)
		}
		img.Frames = len(anim.Image)
		if img.Frames > 0 {
			img.Decoded = anim.Image[0]
		}
		return img, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	img.Decoded = decoded
	return img, nil
}

// Pixels 返回首帧像素；跳过解码的图片在这里按需解码。
func (img *Image) Pixels() (image.Image, error) {
	if img == nil || len(img.Data) == 0 && img.Decoded == nil {
		return nil, fmt.Errorf("%w: empty image", ErrUnknownFormat)
	}
	if img.Decoded != nil {
		return img.Decoded, nil
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", img.Format, err)
	}
	return decoded, nil
}
