// Package grayscale 注册 "grayscale" 转换：把图片转为 8 位灰度并重新编码。
package grayscale

import (
	"image"
	"net/url"

	"golang.org/x/image/draw"

	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/transform"
)

func init() {
	transform.MustRegister(transform.Transform{
		Key:         "grayscale",
		Description: "Convert the first frame to 8-bit grayscale",
		Apply:       Apply,
	})
}

// Apply 实现 transform.Func。
func Apply(img *imaging.Image, _ *url.URL) (*imaging.Image, error) {
	src, err := img.Pixels()
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), src, bounds.Min, draw.Src)
	return imaging.FromDecoded(gray, img.Format)
}
