// Package colorx converts between packed 0xRRGGBB values, RGB and HSV.
package colorx

// Unpack splits a 0xRRGGBB value into its channels.
func Unpack(c uint32) (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Pack is the inverse of Unpack.
func Pack(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// RGBToHSV returns hue in degrees [0,360) and saturation/value in [0,255].
// Hue is 0 when undefined (black or grey).
func RGBToHSV(r, g, b uint8) (h float32, s, v uint8) {
	rf := float32(r) / 255
	gf := float32(g) / 255
	bf := float32(b) / 255

	max := rf
	if gf > max {
		max = gf
	}
	if bf > max {
		max = bf
	}
	min := rf
	if gf < min {
		min = gf
	}
	if bf < min {
		min = bf
	}
	d := max - min

	v = uint8(max*255 + 0.5)
	if max == 0 {
		return 0, 0, v
	}
	s = uint8(d/max*255 + 0.5)
	if d == 0 {
		return 0, s, v
	}

	switch max {
	case rf:
		h = (gf - bf) / d
	case gf:
		h = 2 + (bf-rf)/d
	default:
		h = 4 + (rf-gf)/d
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h -= 360
	}
	return h, s, v
}

// HSVToRGB maps hue in degrees and saturation/value in [0,255] to RGB
// using integer sextant interpolation.
func HSVToRGB(h uint16, s, v uint8) (r, g, b uint8) {
	h %= 360
	hi := uint32(v)
	lo := hi * uint32(255-s) / 255
	adj := (hi - lo) * uint32(h%60) / 60

	var rr, gg, bb uint32
	switch h / 60 {
	case 0:
		rr, gg, bb = hi, lo+adj, lo
	case 1:
		rr, gg, bb = hi-adj, hi, lo
	case 2:
		rr, gg, bb = lo, hi, lo+adj
	case 3:
		rr, gg, bb = lo, hi-adj, hi
	case 4:
		rr, gg, bb = lo+adj, lo, hi
	default:
		rr, gg, bb = hi, lo, hi-adj
	}
	return uint8(rr), uint8(gg), uint8(bb)
}

// Dim divides each channel of c by div (div <= 1 leaves c unchanged).
func Dim(c uint32, div uint8) (r, g, b uint8) {
	r, g, b = Unpack(c)
	if div <= 1 {
		return
	}
	return r / div, g / div, b / div
}
