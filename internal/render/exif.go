package render

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// orientationOf reads the EXIF orientation from raw image bytes. Images
// without EXIF (or with a malformed block) count as upright.
func orientationOf(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// exifTime extracts the capture time from raw image bytes, preferring the
// original shot time over later edits. Zero when no usable tag exists.
func exifTime(raw []byte) time.Time {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return time.Time{}
	}
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime, exif.DateTimeDigitized} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		if ts, err := time.ParseInLocation("2006:01:02 15:04:05", s, time.Local); err == nil {
			return ts
		}
	}
	return time.Time{}
}
