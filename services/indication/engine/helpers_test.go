package engine

import (
	"image/color"
	"sync"
	"testing"
	"time"

	"picklight-go/drivers/ledstrip"
	"picklight-go/types"
)

const (
	green  = 0x00FF00
	yellow = 0xFFD700
	red    = 0xFF0000
	blue   = 0x0000FF
)

// frameLog counts frames pushed to the fake strip hardware.
type frameLog struct {
	mu     sync.Mutex
	frames int
}

func (f *frameLog) WriteColors([]color.RGBA) error {
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
	return nil
}

func (f *frameLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

type rig struct {
	e     *Engine
	strip *ledstrip.Strip
	hw    *frameLog

	mu    sync.Mutex
	alarm uint8
}

func testConfig() Config {
	return Config{
		StripLength: 64,
		Brightness:  20,
		Mode:        ModeUnlimited,
		OrderLEDCap: 1,
		Colors: types.AlarmColors{
			Green:  green,
			Yellow: yellow,
			Red:    0xCD0000,
			Blue:   blue,
		},
	}
}

func newRig(t *testing.T, mod func(*Config)) *rig {
	t.Helper()
	cfg := testConfig()
	if mod != nil {
		mod(&cfg)
	}
	r := &rig{hw: &frameLog{}}
	r.strip = ledstrip.New(r.hw, cfg.StripLength)
	r.e = New(cfg, r.strip, AlarmFunc(func(bits uint8) {
		r.mu.Lock()
		r.alarm = bits
		r.mu.Unlock()
	}), nil)
	return r
}

func (r *rig) alarmBits() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alarm
}

func (r *rig) place(t *testing.T, order string, c uint32, boxes ...types.BoxEntry) {
	t.Helper()
	if err := r.e.Place(types.PlaceOrder{Order: order, TimeStamp: 1, Color: c, Boxes: boxes}); err != nil {
		t.Fatalf("place %s: %v", order, err)
	}
}

func (r *rig) render(t *testing.T) {
	t.Helper()
	if err := r.e.Render(); err != nil {
		t.Fatalf("render: %v", err)
	}
}

// waitWalk blocks until the running Sequence walk, if any, has finished.
func (r *rig) waitWalk(t *testing.T) {
	t.Helper()
	r.e.mu.Lock()
	done := r.e.seqDone
	r.e.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sequence walk did not finish")
	}
}

// lit reports the 1-based LEDs in [from, to] that are on.
func (r *rig) lit(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		if r.strip.Pixel(i-1) != (color.RGBA{}) {
			out = append(out, i)
		}
	}
	return out
}

func (r *rig) expectColor(t *testing.T, from, to int, want color.RGBA) {
	t.Helper()
	for i := from; i <= to; i++ {
		if got := r.strip.Pixel(i - 1); got != want {
			t.Fatalf("led %d = %v, want %v", i, got, want)
		}
	}
}

func box(name string, start, end, take int) types.BoxEntry {
	return types.BoxEntry{Box: name, StartLED: start, EndLED: end, TakeTimes: take}
}

var (
	off      = color.RGBA{}
	dimGreen = color.RGBA{G: 20, A: 0xFF}
	dimRed   = color.RGBA{R: 20, A: 0xFF}
	dimBlue  = color.RGBA{B: 20, A: 0xFF}
)

// residueConserved checks that every order's residue equals the number of
// boxes holding it.
func residueConserved(t *testing.T, e *Engine) {
	t.Helper()
	s := e.Snapshot()
	for _, o := range s.Orders {
		n := 0
		for _, b := range s.Boxes {
			if b.slotOf(o.No) >= 0 {
				n++
			}
		}
		if n != o.Residue {
			t.Fatalf("order %s: residue %d but held by %d boxes", o.Name, o.Residue, n)
		}
	}
	for name, b := range s.Boxes {
		if b.empty() {
			t.Fatalf("empty box %s kept in store", name)
		}
	}
}
