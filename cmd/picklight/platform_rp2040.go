//go:build rp2040

package main

import (
	"context"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"machine"
	"runtime/interrupt"
	"time"

	"picklight-go/services/alarm"
	"picklight-go/services/console"
	"picklight-go/types"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/ws2812"
)

const (
	deviceID = "pico"
	stripPin = machine.GPIO16
)

var errBadPin = errors.New("pin out of range")

func init() {
	console.UARTDial = dialUART
}

func rootContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func newLogger() *slog.Logger {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	return slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// ws2812Writer pushes a frame with interrupts masked; the protocol is timing-bound.
type ws2812Writer struct{ dev ws2812.Device }

func newStripWriter(*slog.Logger) *ws2812Writer {
	stripPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &ws2812Writer{dev: ws2812.New(stripPin)}
}

func (w *ws2812Writer) WriteColors(px []color.RGBA) error {
	mask := interrupt.Disable()
	err := w.dev.WriteColors(px)
	interrupt.Restore(mask)
	return err
}

type rp2Pin struct{ p machine.Pin }

func (r rp2Pin) Set(level bool) { r.p.Set(level) }

func openAlarmPin(n int) (alarm.Pin, error) {
	if n < 0 || n > 28 {
		return nil, errBadPin
	}
	p := machine.Pin(n)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return rp2Pin{p: p}, nil
}

// uartLink reads through uartx's context-aware receive so a link teardown
// unblocks the reader.
type uartLink struct {
	u      *uartx.UART
	ctx    context.Context
	cancel context.CancelFunc
}

func dialUART(ctx context.Context, cfg types.UARTConfig) (io.ReadWriteCloser, error) {
	hw := uartx.UART0
	switch cfg.TxPin {
	case 4, 8, 20:
		hw = uartx.UART1
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(cfg.Baud),
		TX:       machine.Pin(cfg.TxPin),
		RX:       machine.Pin(cfg.RxPin),
	}); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(ctx)
	return &uartLink{u: hw, ctx: lctx, cancel: cancel}, nil
}

func (l *uartLink) Read(b []byte) (int, error) {
	n, err := l.u.RecvSomeContext(l.ctx, b)
	if err != nil && l.ctx.Err() != nil {
		return n, io.EOF
	}
	return n, err
}

func (l *uartLink) Write(b []byte) (int, error) { return l.u.Write(b) }

func (l *uartLink) Close() error {
	l.cancel()
	return nil
}
