package engine

import (
	"picklight-go/x/colorx"
	"picklight-go/x/mathx"
)

// Span is an inclusive 1-based LED range.
type Span struct {
	Start, End int
}

func (s Span) Width() int { return s.End - s.Start + 1 }

// Partition splits [start, end] between count orders.
//
// With n = width/count (floor), order j starts at start+j*n. In unlimited
// mode every order is n wide and the last one runs to end. In capped mode
// every order is limit wide when n >= limit; otherwise the unlimited split
// is used with the last order clamped to limit. limit <= 0 means no cap.
func Partition(start, end, count int, mode Mode, limit int) []Span {
	if count <= 0 || end < start {
		return nil
	}
	n := mathx.Max((end-start+1)/count, 1)
	capped := mode == ModeCapped && limit > 0

	out := make([]Span, count)
	for j := range out {
		s := start + j*n
		w := n
		if capped && n >= limit {
			w = limit
		}
		e := s + w - 1
		if j == count-1 && !(capped && n >= limit) {
			e = end
			if capped && e-s+1 > limit {
				e = s + limit - 1
			}
		}
		out[j] = Span{s, mathx.Min(e, end)}
	}
	return out
}

// allocateLocked re-partitions b between its occupants and paints it.
func (e *Engine) allocateLocked(b *Box) error {
	var idx [MaxOrders]int
	k := 0
	for i := range b.Slots {
		if b.Slots[i].OrderNo != 0 {
			idx[k] = i
			k++
		}
	}
	spans := Partition(b.StartLED, b.EndLED, k, e.cfg.Mode, e.cfg.OrderLEDCap)
	for j, sp := range spans {
		occ := &b.Slots[idx[j]]
		occ.OwnerStart, occ.OwnerEnd = sp.Start, sp.End
	}
	b.Dirty = false
	return e.repaintLocked(b)
}

// repaintLocked paints every occupant of b over its assigned range.
func (e *Engine) repaintLocked(b *Box) error {
	var first error
	for i := range b.Slots {
		occ := &b.Slots[i]
		if occ.OrderNo == 0 {
			continue
		}
		o := e.orderByNo(occ.OrderNo)
		if o == nil {
			continue
		}
		if err := e.fillColorLocked(Span{occ.OwnerStart, occ.OwnerEnd}, o.Color); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// fillColorLocked paints sp with the hue and saturation of c at the
// configured brightness.
func (e *Engine) fillColorLocked(sp Span, c uint32) error {
	h, s, _ := colorx.RGBToHSV(colorx.Unpack(c))
	return e.fillHSVLocked(sp, uint16(h), s, e.cfg.Brightness)
}

func (e *Engine) fillHSVLocked(sp Span, h uint16, s, v uint8) error {
	var first error
	for i := mathx.Max(sp.Start, 1); i <= sp.End; i++ {
		if err := e.led.SetPixelHSV(i-1, h, s, v); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) fillLocked(sp Span, r, g, b uint8) error {
	var first error
	for i := mathx.Max(sp.Start, 1); i <= sp.End; i++ {
		if err := e.led.SetPixel(i-1, r, g, b); err != nil && first == nil {
			first = err
		}
	}
	return first
}
