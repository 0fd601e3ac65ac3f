// Package render applies a watermark template to a single image file.
//
// Apply never panics across its boundary and reports every failure as an
// error return. The output file may be partially written when encoding
// fails part-way; callers must treat the error value, not file presence,
// as the success signal.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/stampd/stampd/internal/template"
)

// Apply watermarks src into dst according to cfg. format selects the
// output encoding ("KEEP" or empty infers it from the dst extension) and
// quality applies to JPEG output.
func Apply(src, dst string, cfg template.Config, format string, quality int) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}
	base := orient(img, orientationOf(raw))

	bw := base.Bounds().Dx()
	bh := base.Bounds().Dy()

	margin := cfg.Margin
	if margin < 0 {
		margin = max(8, int(float64(min(bw, bh))*0.02))
	}
	tileGap := cfg.TileGap
	if tileGap < 0 {
		tileGap = int(float64(min(bw, bh)) * 0.1)
	}

	var layer *image.NRGBA
	if cfg.Type == template.TypeImage {
		layer, err = imageLayer(bw, cfg)
	} else {
		text := cfg.Text
		if text == "" {
			text = "WATERMARK"
		}
		text = expandMacros(text, src, raw)
		layer, err = textLayer(bw, bh, text, cfg)
	}
	if err != nil {
		return err
	}

	out := paste(base, layer, cfg.Position, margin, tileGap)
	return encode(out, dst, format, quality)
}

// paste composites layer onto a copy of base at the named position, or
// tiles it across the whole canvas with staggered rows.
func paste(base, layer *image.NRGBA, position string, margin, tileGap int) *image.NRGBA {
	bw := base.Bounds().Dx()
	bh := base.Bounds().Dy()
	lw := layer.Bounds().Dx()
	lh := layer.Bounds().Dy()

	out := image.NewNRGBA(image.Rect(0, 0, bw, bh))
	copy(out.Pix, base.Pix)

	if position == "tile" {
		stepX := lw + tileGap
		stepY := lh + tileGap
		for y := margin; y < bh+stepY; y += stepY {
			xOff := margin
			if (y/stepY)%2 != 0 {
				xOff = margin + stepX/3
			}
			for x := xOff; x < bw+stepX; x += stepX {
				compositeAt(out, layer, min(x, bw-lw), min(y, bh-lh))
			}
		}
		return out
	}

	var x, y int
	switch position {
	case "top-left":
		x, y = margin, margin
	case "top-right":
		x, y = bw-lw-margin, margin
	case "bottom-left":
		x, y = margin, bh-lh-margin
	case "center":
		x, y = (bw-lw)/2, (bh-lh)/2
	default: // bottom-right
		x, y = bw-lw-margin, bh-lh-margin
	}
	x = max(0, min(bw-lw, x))
	y = max(0, min(bh-lh, y))
	compositeAt(out, layer, x, y)
	return out
}

func compositeAt(dst, layer *image.NRGBA, x, y int) {
	r := image.Rect(x, y, x+layer.Bounds().Dx(), y+layer.Bounds().Dy())
	draw.Draw(dst, r, layer, layer.Bounds().Min, draw.Over)
}

var extFormats = map[string]string{
	".jpg":  "JPEG",
	".jpeg": "JPEG",
	".png":  "PNG",
	".webp": "WEBP",
	".bmp":  "BMP",
	".tiff": "TIFF",
}

// FormatFor resolves the output format for dst. Empty and "KEEP" infer it
// from the destination extension, defaulting to PNG. Explicit names are
// upper-cased but not validated here; encode rejects unknown ones.
func FormatFor(dst, requested string) string {
	f := strings.ToUpper(strings.TrimSpace(requested))
	if f == "" || f == "KEEP" {
		if mapped, ok := extFormats[strings.ToLower(filepath.Ext(dst))]; ok {
			return mapped
		}
		return "PNG"
	}
	return f
}

func encode(img *image.NRGBA, dst, format string, quality int) error {
	name := FormatFor(dst, format)

	var enc func(io.Writer) error
	switch name {
	case "JPEG":
		q := quality
		if q <= 0 {
			q = 90
		}
		q = min(100, max(1, q))
		enc = func(w io.Writer) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: q}) }
	case "PNG":
		enc = func(w io.Writer) error { return png.Encode(w, img) }
	case "BMP":
		enc = func(w io.Writer) error { return bmp.Encode(w, img) }
	case "TIFF":
		enc = func(w io.Writer) error { return tiff.Encode(w, img, nil) }
	default:
		// WEBP lands here: the toolchain decodes it but cannot encode it.
		return fmt.Errorf("unsupported output format %s", name)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := enc(f); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return f.Close()
}
