package ledstrip

import (
	"errors"
	"image/color"
	"testing"
)

type recorder struct {
	frames [][]color.RGBA
	err    error
}

func (r *recorder) WriteColors(buf []color.RGBA) error {
	if r.err != nil {
		return r.err
	}
	cp := make([]color.RGBA, len(buf))
	copy(cp, buf)
	r.frames = append(r.frames, cp)
	return nil
}

func TestSetAndRefresh(t *testing.T) {
	w := &recorder{}
	s := New(w, 4)

	if err := s.SetPixel(1, 10, 20, 30); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPixelHSV(3, 240, 255, 20); err != nil {
		t.Fatal(err)
	}
	if err := s.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(w.frames) != 1 {
		t.Fatalf("frames = %d", len(w.frames))
	}
	f := w.frames[0]
	if f[1] != (color.RGBA{R: 10, G: 20, B: 30, A: 0xFF}) {
		t.Fatalf("px1 = %v", f[1])
	}
	if f[3].R != 0 || f[3].G != 0 || f[3].B != 20 {
		t.Fatalf("px3 = %v", f[3])
	}
	if f[0] != (color.RGBA{}) || f[2] != (color.RGBA{}) {
		t.Fatal("untouched pixels must stay off")
	}
}

func TestBounds(t *testing.T) {
	s := New(&recorder{}, 2)
	for _, i := range []int{-1, 2, 100} {
		if err := s.SetPixel(i, 1, 1, 1); !errors.Is(err, ErrIndex) {
			t.Errorf("index %d: err = %v", i, err)
		}
	}
	if s.Pixel(5) != (color.RGBA{}) {
		t.Fatal("out of range pixel must be zero")
	}
}

func TestClearNeedsRefresh(t *testing.T) {
	w := &recorder{}
	s := New(w, 2)
	_ = s.SetPixel(0, 1, 2, 3)
	_ = s.Refresh()
	s.Clear()
	if len(w.frames) != 1 {
		t.Fatal("Clear must not write to hardware")
	}
	_ = s.Refresh()
	if w.frames[1][0] != (color.RGBA{}) {
		t.Fatal("cleared pixel still lit")
	}
}

func TestRefreshErrors(t *testing.T) {
	boom := errors.New("boom")
	if err := New(&recorder{err: boom}, 1).Refresh(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := New(nil, 1).Refresh(); !errors.Is(err, ErrNoWriter) {
		t.Fatalf("err = %v", err)
	}
}

func TestResize(t *testing.T) {
	s := New(&recorder{}, 2)
	_ = s.SetPixel(1, 9, 9, 9)
	s.Resize(2)
	if s.Pixel(1).R != 9 {
		t.Fatal("same-size resize must keep pixels")
	}
	s.Resize(5)
	if s.Len() != 5 || s.Pixel(1) != (color.RGBA{}) {
		t.Fatalf("resize: len=%d px1=%v", s.Len(), s.Pixel(1))
	}
}
