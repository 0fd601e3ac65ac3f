package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"os"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/stampd/stampd/internal/template"
)

// imageLayer loads the template's watermark asset, scales it to scale of
// the base width and fades it to the template opacity.
func imageLayer(baseW int, cfg template.Config) (*image.NRGBA, error) {
	if cfg.ImagePath == "" {
		return nil, errors.New("watermark image not found")
	}
	raw, err := os.ReadFile(cfg.ImagePath)
	if err != nil {
		return nil, errors.New("watermark image not found")
	}
	mark, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode watermark: %w", err)
	}

	layer := toNRGBA(mark)
	targetW := max(1, int(float64(baseW)*max(0.02, min(cfg.Scale, 1.0))))
	layer = scaleToWidth(layer, targetW)
	if cfg.Rotation != 0 {
		layer = rotate(layer, cfg.Rotation)
	}
	return fadeAlpha(layer, cfg.Opacity), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func scaleToWidth(src *image.NRGBA, targetW int) *image.NRGBA {
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	if w == 0 || h == 0 || w == targetW {
		return src
	}
	factor := float64(targetW) / float64(w)
	nw := max(1, int(float64(w)*factor))
	nh := max(1, int(float64(h)*factor))
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// fadeAlpha multiplies the alpha channel by opacity, clamped to [0, 1].
// The source is mutated in place.
func fadeAlpha(src *image.NRGBA, opacity float64) *image.NRGBA {
	op := clamp01(opacity)
	if op == 1 {
		return src
	}
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = uint8(float64(src.Pix[i]) * op)
	}
	return src
}

// rotate turns the layer counter-clockwise by degrees, expanding the
// canvas to fit and leaving the uncovered corners transparent.
func rotate(src *image.NRGBA, degrees float64) *image.NRGBA {
	theta := degrees * math.Pi / 180
	sin, cos := math.Sin(theta), math.Cos(theta)

	w := float64(src.Bounds().Dx())
	h := float64(src.Bounds().Dy())
	dw := math.Abs(w*cos) + math.Abs(h*sin)
	dh := math.Abs(w*sin) + math.Abs(h*cos)

	dst := image.NewNRGBA(image.Rect(0, 0, max(1, int(math.Ceil(dw))), max(1, int(math.Ceil(dh)))))

	// Source-to-destination affine map: rotate about the source center,
	// then recenter on the expanded canvas. The y axis points down, so a
	// visually counter-clockwise turn uses sin with these signs.
	scx, scy := w/2, h/2
	dcx, dcy := dw/2, dh/2
	s2d := f64.Aff3{
		cos, sin, dcx - (cos*scx + sin*scy),
		-sin, cos, dcy - (-sin*scx + cos*scy),
	}
	xdraw.CatmullRom.Transform(dst, s2d, src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// orient applies the EXIF orientation o (1 through 8) to img, returning a
// normalized upright copy.
func orient(img image.Image, o int) *image.NRGBA {
	src := toNRGBA(img)
	if o <= 1 || o > 8 {
		return src
	}
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 clockwise
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 counter-clockwise
				dx, dy = y, w-1-x
			}
			dst.SetNRGBA(dx, dy, src.NRGBAAt(x, y))
		}
	}
	return dst
}
