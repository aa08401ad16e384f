package app

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Resizer produces square thumbnails. Aspect ratio is not preserved:
// every thumbnail is exactly size x size.
type Resizer struct {
	Filter      imaging.ResampleFilter
	JPEGQuality int
}

func NewResizer() *Resizer {
	return &Resizer{Filter: imaging.Lanczos, JPEGQuality: 85}
}

func (r *Resizer) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("can not decode image: %w", err)
	}
	return img, nil
}

// Square resizes src to size x size and encodes it in format.
func (r *Resizer) Square(src image.Image, size int, format imaging.Format) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %d", size)
	}
	resized := imaging.Resize(src, size, size, r.Filter)
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, resized, format, imaging.JPEGQuality(r.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("can not encode %dx%d thumbnail: %w", size, size, err)
	}
	return buf.Bytes(), nil
}
