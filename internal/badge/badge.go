// Package badge renders the current glucose value and its delta into a small PNG
package badge

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/nightscout-delta/internal/models"
)

const (
	width  = 64
	height = 64
	radius = 16

	colorUnknown = "#808080" // Gray
)

var parseFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

// Renderer draws badges using the configured colors
type Renderer struct {
	settings models.BadgeSettings
}

// NewRenderer creates a renderer for the badge settings
func NewRenderer(settings models.BadgeSettings) *Renderer {
	return &Renderer{settings: settings}
}

// Render draws the badge for status and returns it PNG encoded
func (r *Renderer) Render(status models.DeltaStatus) ([]byte, error) {
	dc := gg.NewContext(width, height)

	// Transparent background
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	cr, cg, cb := parseHexColor(r.statusColor(status.Status))
	dc.SetRGB255(int(cr), int(cg), int(cb))
	dc.DrawRoundedRectangle(0, 0, width, height, radius)
	dc.Fill()

	// Text color (black or white depending on brightness)
	brightness := (int(cr)*299 + int(cg)*587 + int(cb)*114) / 1000
	if brightness > 128 {
		dc.SetColor(color.Black)
	} else {
		dc.SetColor(color.White)
	}

	if err := loadFont(dc, 30); err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	dc.DrawStringAnchored(strconv.Itoa(status.Value), width/2, height/2-12, 0.5, 0.5)

	drawArrow(dc, 16, height-16, 20, status.Direction)

	if err := loadFont(dc, 16); err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	dc.DrawStringAnchored(FormatDelta(status.Delta), width/2+10, height-16, 0.5, 0.5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encoding badge: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders the badge for status to path
func (r *Renderer) WriteFile(path string, status models.DeltaStatus) error {
	data, err := r.Render(status)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644) //nolint:gosec // The badge is meant to be read by other programs
}

// FormatDelta formats a delta rounded to one decimal with an explicit sign
func FormatDelta(delta float64) string {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return "?"
	}

	v := math.Round(delta*10) / 10
	if v == 0 {
		return "±0"
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v > 0 {
		return "+" + s
	}
	return s
}

// statusColor returns the background color for a glucose status
func (r *Renderer) statusColor(status string) string {
	switch status {
	case "urgent_low", "urgent_high":
		return r.settings.ColorUrgent
	case "low":
		return r.settings.ColorLow
	case "high":
		return r.settings.ColorHigh
	case "normal":
		return r.settings.ColorInRange
	default:
		return colorUnknown
	}
}

// loadFont sets the Go regular font face at size
func loadFont(dc *gg.Context, size float64) error {
	font, err := parseFont()
	if err != nil {
		return err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
	return nil
}

// drawArrow draws a vector arrow rotated for a Nightscout direction
func drawArrow(dc *gg.Context, x, y, size float64, direction string) {
	var angle float64
	switch direction {
	case models.DirectionDoubleUp, models.DirectionSingleUp:
		angle = 0
	case models.DirectionFortyFiveUp:
		angle = 45
	case models.DirectionFlat:
		angle = 90
	case models.DirectionFortyFiveDown:
		angle = 135
	case models.DirectionDoubleDown, models.DirectionSingleDown:
		angle = 180
	default:
		return // No arrow
	}

	dc.Push()
	defer dc.Pop()

	dc.Translate(x, y)
	dc.Rotate(gg.Radians(angle))

	halfSize := size / 2
	if direction == models.DirectionDoubleUp || direction == models.DirectionDoubleDown {
		drawSingleArrow(dc, 0, -halfSize/2, size*0.8)
		drawSingleArrow(dc, 0, halfSize/2, size*0.8)
	} else {
		drawSingleArrow(dc, 0, 0, size)
	}
}

// drawSingleArrow fills an upward arrow of height s centered at ox, oy
func drawSingleArrow(dc *gg.Context, ox, oy, s float64) {
	w := s * 0.5

	dc.NewSubPath()
	dc.MoveTo(ox, oy-s/2) // Tip
	dc.LineTo(ox+w/2, oy)
	dc.LineTo(ox+w/6, oy)
	dc.LineTo(ox+w/6, oy+s/2)
	dc.LineTo(ox-w/6, oy+s/2)
	dc.LineTo(ox-w/6, oy)
	dc.LineTo(ox-w/2, oy)
	dc.ClosePath()
	dc.Fill()
}

// parseHexColor parses a hex color string to RGB values
func parseHexColor(hex string) (r, g, b byte) {
	if len(hex) == 7 && hex[0] == '#' {
		_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return
}
