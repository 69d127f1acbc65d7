// Package thumbnail 注册 "thumbnail" 转换：按比例缩放到最长边不超过 MaxEdge。
package thumbnail

import (
	"image"
	"net/url"

	"golang.org/x/image/draw"

	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/transform"
)

// MaxEdge 是缩略图最长边的像素数。
const MaxEdge = 256

func init() {
	transform.MustRegister(transform.Transform{
		Key:         "thumbnail",
		Description: "Scale down so the longest edge is at most 256px",
		Apply:       Apply,
	})
}

// Apply 实现 transform.Func；已经足够小的图片原样返回。
func Apply(img *imaging.Image, _ *url.URL) (*imaging.Image, error) {
	src, err := img.Pixels()
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	w, h := fit(bounds.Dx(), bounds.Dy(), MaxEdge)
	if w == bounds.Dx() && h == bounds.Dy() {
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return imaging.FromDecoded(dst, img.Format)
}

func fit(w, h, edge int) (int, int) {
	if w <= edge && h <= edge {
		return w, h
	}
	if w >= h {
		return edge, max(1, h*edge/w)
	}
	return max(1, w*edge/h), edge
}
