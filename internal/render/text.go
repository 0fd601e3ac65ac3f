package render

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/stampd/stampd/internal/template"
)

var dateMacroRE = regexp.MustCompile(`\{date(?::([^}]+))?\}`)

// expandMacros substitutes {date} and {date:<layout>} with the capture
// time of the source image, using Go reference layouts. EXIF time wins;
// the file modification time is the fallback. Without either, the macro
// expands to the empty string.
func expandMacros(text, srcPath string, raw []byte) string {
	if !strings.Contains(text, "{date") {
		return text
	}
	ts := exifTime(raw)
	if ts.IsZero() {
		if info, err := os.Stat(srcPath); err == nil {
			ts = info.ModTime()
		}
	}
	return dateMacroRE.ReplaceAllStringFunc(text, func(m string) string {
		if ts.IsZero() {
			return ""
		}
		layout := "2006-01-02 15:04:05"
		if sub := dateMacroRE.FindStringSubmatch(m); len(sub) > 1 && sub[1] != "" {
			layout = sub[1]
		}
		return ts.Format(layout)
	})
}

// parseHexColor accepts #RGB and #RRGGBB (a leading # is optional) and
// falls back to white for anything else.
func parseHexColor(s string) (r, g, b uint8) {
	r, g, b = 255, 255, 255
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return r, g, b
	}
	rv, err1 := strconv.ParseUint(s[0:2], 16, 8)
	gv, err2 := strconv.ParseUint(s[2:4], 16, 8)
	bv, err3 := strconv.ParseUint(s[4:6], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return r, g, b
	}
	return uint8(rv), uint8(gv), uint8(bv)
}

// fontCandidates lists font files to try, the template's own font first.
func fontCandidates(userPath string) []string {
	var out []string
	if p := strings.TrimSpace(userPath); p != "" && !strings.EqualFold(p, "null") && !strings.EqualFold(p, "none") {
		out = append(out, p)
	}
	out = append(out,
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/Library/Fonts/Arial Unicode.ttf",
		"/Library/Fonts/Arial.ttf",
	)
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".fonts", "DejaVuSans.ttf"))
	}
	return out
}

func loadFont(path string) (*opentype.Font, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// ParseCollection handles both single fonts and .ttc collections.
	coll, err := opentype.ParseCollection(raw)
	if err != nil {
		return nil, err
	}
	return coll.Font(0)
}

// sizeFace binary-searches the point size whose rendered width of text
// stays under targetW pixels.
func sizeFace(f *opentype.Font, text string, targetW int) (font.Face, error) {
	lo, hi, chosen := 8, 2000, 64
	for lo <= hi {
		mid := (lo + hi) / 2
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(mid), DPI: 72})
		if err != nil {
			return nil, err
		}
		bounds, _ := font.BoundString(face, text)
		w := (bounds.Max.X - bounds.Min.X).Ceil()
		face.Close()
		if w < targetW {
			chosen = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: float64(chosen), DPI: 72})
}

// pickFace returns a face sized so the text spans about scale of the base
// width. When no usable font file exists it falls back to a small bitmap
// face rather than failing the file.
func pickFace(userPath, text string, baseW int, scale float64) font.Face {
	target := max(10, int(float64(baseW)*max(0.02, min(scale, 1.0))))
	for _, p := range fontCandidates(userPath) {
		f, err := loadFont(p)
		if err != nil {
			continue
		}
		face, err := sizeFace(f, text, target)
		if err != nil {
			continue
		}
		return face
	}
	return basicfont.Face7x13
}

// textLayer renders text with a drop shadow onto a transparent layer
// padded enough that neither the shadow nor glyph overshoot is clipped.
func textLayer(bw, bh int, text string, cfg template.Config) (*image.NRGBA, error) {
	face := pickFace(cfg.FontPath, text, bw, cfg.Scale)

	bounds, _ := font.BoundString(face, text)
	textW := (bounds.Max.X - bounds.Min.X).Ceil()
	textH := (bounds.Max.Y - bounds.Min.Y).Ceil()

	basePad := max(2, int(float64(min(bw, bh))*0.01))
	shadowOff := max(1, int(float64(basePad)*0.6))
	pad := basePad + shadowOff + 4

	layer := image.NewNRGBA(image.Rect(0, 0, textW+pad*2, textH+pad*2))

	alpha := uint8(255 * clamp01(cfg.Opacity))
	// Shift the pen so the ink bounding box starts at the padding inset.
	dot := fixed.Point26_6{
		X: fixed.I(pad) - bounds.Min.X,
		Y: fixed.I(pad) - bounds.Min.Y,
	}

	shadow := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(color.NRGBA{0, 0, 0, alpha}),
		Face: face,
		Dot:  fixed.Point26_6{X: dot.X + fixed.I(shadowOff), Y: dot.Y + fixed.I(shadowOff)},
	}
	shadow.DrawString(text)

	r, g, b := parseHexColor(cfg.TextColor)
	main := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(color.NRGBA{r, g, b, alpha}),
		Face: face,
		Dot:  dot,
	}
	main.DrawString(text)

	if cfg.Rotation != 0 {
		layer = rotate(layer, cfg.Rotation)
	}
	return layer, nil
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
