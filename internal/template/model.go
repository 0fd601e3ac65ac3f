// Package template defines watermark templates and their persistence.
package template

import "encoding/json"

// Template types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Config holds the watermark parameters of one template. Field names match
// the JSON keys clients send. Margin and TileGap below zero mean the
// renderer derives them from the image size.
type Config struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	TextColor string  `json:"text_color,omitempty"`
	FontPath  string  `json:"font_path,omitempty"`
	ImagePath string  `json:"image_path,omitempty"`
	Scale     float64 `json:"scale"`
	Opacity   float64 `json:"opacity"`
	Position  string  `json:"position"`
	Rotation  float64 `json:"rotation"`
	Margin    int     `json:"margin"`
	TileGap   int     `json:"tile_gap"`
}

// UnmarshalJSON applies the documented defaults before decoding so absent
// keys keep them: text type, scale 0.2, opacity 0.25, bottom-right
// placement, margin and tile gap derived from the image.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	p := plain{
		Type:     TypeText,
		Scale:    0.2,
		Opacity:  0.25,
		Position: "bottom-right",
		Margin:   -1,
		TileGap:  -1,
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}
