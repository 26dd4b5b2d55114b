// Package ledstrip provides a frame-buffered addressable LED strip.
//
// Pixels are staged in RAM with SetPixel / SetPixelHSV / Clear and pushed to
// the hardware in one go with Refresh:
//
//	s := ledstrip.New(ws2812.New(pin), 2400)
//	_ = s.SetPixelHSV(0, 120, 255, 20)
//	_ = s.Refresh()
//
// Indices are 0-based. The type is not safe for concurrent use; callers
// serialise staging and Refresh themselves.
package ledstrip

import (
	"errors"
	"image/color"

	"picklight-go/x/colorx"
)

// Writer is the hardware side, e.g. a tinygo.org/x/drivers/ws2812 Device.
type Writer interface {
	WriteColors(buf []color.RGBA) error
}

// Errors returned by the strip.
var (
	ErrIndex    = errors.New("ledstrip: index out of range")
	ErrNoWriter = errors.New("ledstrip: no writer")
)

// Strip is a pixel buffer bound to a Writer.
type Strip struct {
	w  Writer
	px []color.RGBA
}

// New allocates a buffer of n pixels, all off.
func New(w Writer, n int) *Strip {
	if n < 0 {
		n = 0
	}
	return &Strip{w: w, px: make([]color.RGBA, n)}
}

// Resize reallocates the buffer to n pixels, all off.
func (s *Strip) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if n != len(s.px) {
		s.px = make([]color.RGBA, n)
	}
}

// Len returns the number of pixels.
func (s *Strip) Len() int { return len(s.px) }

// SetPixel stages an RGB value.
func (s *Strip) SetPixel(i int, r, g, b uint8) error {
	if i < 0 || i >= len(s.px) {
		return ErrIndex
	}
	s.px[i] = color.RGBA{R: r, G: g, B: b, A: 0xFF}
	return nil
}

// SetPixelHSV stages an HSV value (hue in degrees, s and v in 0..255).
func (s *Strip) SetPixelHSV(i int, h uint16, sat, v uint8) error {
	r, g, b := colorx.HSVToRGB(h, sat, v)
	return s.SetPixel(i, r, g, b)
}

// Pixel returns the staged value at i (zero when out of range).
func (s *Strip) Pixel(i int) color.RGBA {
	if i < 0 || i >= len(s.px) {
		return color.RGBA{}
	}
	return s.px[i]
}

// Clear stages every pixel off. Refresh is still required.
func (s *Strip) Clear() {
	for i := range s.px {
		s.px[i] = color.RGBA{}
	}
}

// Refresh pushes the buffer to the hardware.
func (s *Strip) Refresh() error {
	if s.w == nil {
		return ErrNoWriter
	}
	return s.w.WriteColors(s.px)
}
