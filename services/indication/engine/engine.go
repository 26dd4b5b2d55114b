// Package engine holds the order/box indication state of a pick-to-light
// strip and renders it.
//
// All state lives behind one store lock. LED writes additionally take the
// LED lock so that a staged frame and its Refresh are never interleaved;
// the lock order is always store then LED.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"picklight-go/types"
)

const (
	MaxOrders  = 4   // concurrently active orders
	MaxBoxes   = 256 // boxes held by the store
	MaxNameLen = 32  // bytes, for order and box names
)

// Mode selects how a box range is split between its orders.
type Mode uint8

const (
	ModeUnlimited Mode = 1
	ModeCapped    Mode = 2
)

// LEDDriver is the strip the engine paints. Indices are 0-based.
type LEDDriver interface {
	SetPixel(i int, r, g, b uint8) error
	SetPixelHSV(i int, h uint16, s, v uint8) error
	Clear()
	Refresh() error
}

// AlarmOutput receives the 4-bit alarm lamp state after every change.
type AlarmOutput interface {
	SetAlarm(bits uint8)
}

// AlarmFunc adapts a function to AlarmOutput.
type AlarmFunc func(bits uint8)

func (f AlarmFunc) SetAlarm(bits uint8) { f(bits) }

// Config is the runtime tuning of the engine.
type Config struct {
	StripLength    int
	Brightness     uint8
	Mode           Mode
	OrderLEDCap    int
	AllowOverwrite bool
	Colors         types.AlarmColors
	Boxes          Geometry
}

// ConfigFrom converts the bus configuration.
func ConfigFrom(c types.IndicationConfig) Config {
	mode := Mode(c.Mode)
	if mode != ModeCapped {
		mode = ModeUnlimited
	}
	return Config{
		StripLength:    c.StripLength,
		Brightness:     c.Brightness,
		Mode:           mode,
		OrderLEDCap:    c.OrderLEDCap,
		AllowOverwrite: c.AllowOverwrite,
		Colors:         c.Colors,
		Boxes:          Geometry(c.Boxes),
	}
}

type Engine struct {
	mu     sync.Mutex
	cfg    Config
	orders [MaxOrders]Order
	lastNo uint16
	boxes  map[string]*Box
	dirty  []string // names of boxes awaiting a render
	stale  []span   // ranges to extinguish before the next render
	debug  bool     // strip shows a debug pattern, not orders

	seqStop context.CancelFunc // running Sequence walk, if any
	seqDone chan struct{}

	ledMu sync.Mutex
	led   LEDDriver
	alarm AlarmOutput

	wake chan struct{}
	log  *slog.Logger
}

// New builds an engine. alarm and log may be nil.
func New(cfg Config, led LEDDriver, alarm AlarmOutput, log *slog.Logger) *Engine {
	if alarm == nil {
		alarm = AlarmFunc(func(uint8) {})
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:   cfg,
		boxes: make(map[string]*Box),
		dirty: make([]string, 0, 16),
		led:   led,
		alarm: alarm,
		wake:  make(chan struct{}, 1),
		log:   log,
	}
}

// Configure swaps the tuning in place. Active orders survive; every box is
// extinguished over its whole range and repainted with the new settings.
func (e *Engine) Configure(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	for name, b := range e.boxes {
		e.addStaleLocked(b.span())
		e.markDirtyLocked(name, b)
	}
	e.syncAlarmLocked()
	e.mu.Unlock()
	e.Signal()
}

// Signal wakes the renderer. Signals coalesce while a render is pending.
func (e *Engine) Signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run is the rendering task; it blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			if err := e.Render(); err != nil {
				e.log.Warn("indication:render_failed", slog.String("err", err.Error()))
			}
		}
	}
}

// Render drains the dirty work-list: stale ranges are extinguished, every
// dirty box is partitioned and painted, and the strip is refreshed once.
func (e *Engine) Render() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.dirty) == 0 && len(e.stale) == 0 {
		return nil
	}

	e.ledMu.Lock()
	defer e.ledMu.Unlock()

	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}

	for _, sp := range e.stale {
		keep(e.fillLocked(sp, 0, 0, 0))
	}
	// Boxes sharing LEDs with a cleared range get their current paint back.
	for _, b := range e.boxes {
		if !b.Dirty && b.overlapsAny(e.stale) {
			keep(e.repaintLocked(b))
		}
	}
	e.stale = e.stale[:0]

	n := 0
	for _, name := range e.dirty {
		b := e.boxes[name]
		if b == nil || !b.Dirty {
			continue
		}
		keep(e.allocateLocked(b))
		n++
	}
	e.dirty = e.dirty[:0]

	keep(e.led.Refresh())
	e.log.Debug("indication:rendered", slog.Int("boxes", n))
	return first
}
