package render

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// FitWithin scales (w, h) to the largest size that fits inside (maxW, maxH)
// without changing the aspect ratio.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w*maxH >= h*maxW {
		fh := (h*maxW + w/2) / w
		return maxW, max(fh, 1)
	}
	fw := (w*maxH + h/2) / h
	return max(fw, 1), maxH
}

// Letterbox scales src to fit a w×h canvas and centres it on black bars.
func Letterbox(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	sb := src.Bounds()
	fw, fh := FitWithin(sb.Dx(), sb.Dy(), w, h)
	x, y := (w-fw)/2, (h-fh)/2
	draw.CatmullRom.Scale(dst, image.Rect(x, y, x+fw, y+fh), src, sb, draw.Over, nil)
	return dst
}

// LoadImage decodes a PNG, JPEG or WebP file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty %s image", format)
	}
	return img, nil
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
