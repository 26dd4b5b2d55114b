package engine

import (
	"context"
	"log/slog"
	"time"

	"picklight-go/errcode"
	"picklight-go/types"
	"picklight-go/x/colorx"
	"picklight-go/x/mathx"
	"picklight-go/x/timex"
)

// MaxSequenceDelay bounds the per-pixel pause of Sequence.
const MaxSequenceDelay = 50 * time.Millisecond

// Debug patterns replace the order display: every order is discarded first
// and the strip stays in debug mode until EndDebug or the next order command.

func (e *Engine) checkRange(op string, start, end int) error {
	if start < 1 || end < start || end > e.cfg.StripLength {
		return errcode.New(errcode.InvalidGeometry, op, "led range outside strip")
	}
	return nil
}

// Locate lights [start_led, end_led] white at the configured brightness.
func (e *Engine) Locate(req types.Locate) error {
	const op = "locate"
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRange(op, req.StartLED, req.EndLED); err != nil {
		return err
	}
	e.stopSequenceLocked()
	e.killAllLocked()
	e.debug = true

	v := e.cfg.Brightness
	e.ledMu.Lock()
	defer e.ledMu.Unlock()
	e.led.Clear()
	if err := e.fillLocked(Span{req.StartLED, req.EndLED}, v, v, v); err != nil {
		return err
	}
	e.log.Info("indication:locate", slog.Int("start", req.StartLED), slog.Int("end", req.EndLED))
	return e.led.Refresh()
}

// Sequence starts lighting the range one pixel at a time, refreshing after
// each, and returns once the request is accepted. The walk runs until it
// reaches end_led, ctx ends, or another command replaces the pattern.
// Without a brightness the raw color is dimmed twentyfold.
func (e *Engine) Sequence(ctx context.Context, req types.Sequence) error {
	const op = "sequence"
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRange(op, req.StartLED, req.EndLED); err != nil {
		return err
	}
	e.stopSequenceLocked()
	e.killAllLocked()
	e.debug = true

	e.ledMu.Lock()
	e.led.Clear()
	e.ledMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.seqStop, e.seqDone = cancel, done
	go func() {
		defer close(done)
		if err := e.walk(ctx, req); err != nil && ctx.Err() == nil {
			e.log.Warn("indication:sequence_failed", slog.String("err", err.Error()))
		}
	}()
	e.log.Info("indication:sequence", slog.Int("start", req.StartLED), slog.Int("end", req.EndLED))
	return nil
}

// walk paints the sequence. It takes only the LED lock; the store lock may
// be held by whoever is waiting for it to stop.
func (e *Engine) walk(ctx context.Context, req types.Sequence) error {
	delay := mathx.Clamp(time.Duration(req.DelayMS)*time.Millisecond, 0, MaxSequenceDelay)
	h, s, _ := colorx.RGBToHSV(colorx.Unpack(req.Color))
	r, g, b := colorx.Dim(req.Color, 20)

	for i := req.StartLED; i <= req.EndLED; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.ledMu.Lock()
		var err error
		if req.Brightness > 0 {
			err = e.led.SetPixelHSV(i-1, uint16(h), s, req.Brightness)
		} else {
			err = e.led.SetPixel(i-1, r, g, b)
		}
		if err == nil {
			err = e.led.Refresh()
		}
		e.ledMu.Unlock()
		if err != nil {
			return err
		}
		if !timex.Sleep(ctx.Done(), delay) {
			return ctx.Err()
		}
	}
	return nil
}

// stopSequenceLocked cancels a running walk and waits until it has left
// the strip alone.
func (e *Engine) stopSequenceLocked() {
	if e.seqStop == nil {
		return
	}
	e.seqStop()
	<-e.seqDone
	e.seqStop, e.seqDone = nil, nil
}

// BoxLightUp lights configured boxes by name. An empty list clears the
// strip; an unknown name rejects the whole request.
func (e *Engine) BoxLightUp(req types.BoxLightUp) error {
	const op = "box_light_up"
	e.mu.Lock()
	defer e.mu.Unlock()

	spans := make([]Span, 0, len(req.Boxes))
	for _, name := range req.Boxes {
		start, end, ok := e.cfg.Boxes.Lookup(name)
		if !ok {
			return errcode.New(errcode.NotFound, op, "no geometry for box: "+name)
		}
		if err := e.checkRange(op, start, end); err != nil {
			return err
		}
		spans = append(spans, Span{start, end})
	}

	e.stopSequenceLocked()
	e.killAllLocked()
	e.debug = len(spans) > 0

	v := req.Brightness
	if v == 0 {
		v = e.cfg.Brightness
	}
	h, s, _ := colorx.RGBToHSV(colorx.Unpack(req.Color))

	e.ledMu.Lock()
	defer e.ledMu.Unlock()
	e.led.Clear()
	for _, sp := range spans {
		if err := e.fillHSVLocked(sp, uint16(h), s, v); err != nil {
			return err
		}
	}
	return e.led.Refresh()
}

// EndDebug clears a debug pattern. It reports whether one was showing.
func (e *Engine) EndDebug() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.debug {
		return false
	}
	e.exitDebugLocked()
	return true
}

// InDebug reports whether a debug pattern is showing.
func (e *Engine) InDebug() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debug
}

func (e *Engine) exitDebugLocked() {
	e.stopSequenceLocked()
	if !e.debug {
		return
	}
	e.debug = false
	e.ledMu.Lock()
	e.led.Clear()
	err := e.led.Refresh()
	e.ledMu.Unlock()
	if err != nil {
		e.log.Warn("indication:debug_clear_failed", slog.String("err", err.Error()))
	}
}
