package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
)

// Encode 把像素重新编码为 format。webp 没有编码器，回退为 png，
// 返回值中的 format 是实际使用的格式。
func Encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		format = "png"
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}

// FromDecoded 以 img 的像素构造新的 Image，Data 为重新编码后的字节。
func FromDecoded(decoded image.Image, format string) (*Image, error) {
	data, actual, err := Encode(decoded, format)
	if err != nil {
		return nil, err
	}
	bounds := decoded.Bounds()
	return &Image{
		Data:    data,
		Format:  actual,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Frames:  1,
		Decoded: decoded,
	}, nil
}
