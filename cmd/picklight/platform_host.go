//go:build !rp2040

package main

import (
	"context"
	"image/color"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"picklight-go/services/alarm"
	"picklight-go/services/console"
	"picklight-go/types"
)

const deviceID = "host"

func init() {
	console.RegisterTransport("stdio", func(types.TransportConfig) (console.Transport, error) {
		return console.FuncTransport{Name: "stdio", Dial: func(context.Context) (io.ReadWriteCloser, error) {
			return stdio{}, nil
		}}, nil
	})
}

func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func setupNetwork(context.Context, *slog.Logger) error { return nil }

// logWriter reports lit pixel runs instead of driving hardware.
type logWriter struct{ log *slog.Logger }

func newStripWriter(log *slog.Logger) logWriter {
	return logWriter{log: log.With(slog.String("dev", "strip"))}
}

func (w logWriter) WriteColors(px []color.RGBA) error {
	lit, start := 0, -1
	for i, c := range px {
		on := c.R|c.G|c.B != 0
		if on {
			lit++
		}
		switch {
		case on && start < 0:
			start = i
		case !on && start >= 0:
			w.log.Debug("strip:run", slog.Int("from", start+1), slog.Int("to", i), slog.Any("rgb", px[start]))
			start = -1
		}
	}
	if start >= 0 {
		w.log.Debug("strip:run", slog.Int("from", start+1), slog.Int("to", len(px)), slog.Any("rgb", px[start]))
	}
	w.log.Info("strip:refresh", slog.Int("lit", lit), slog.Int("len", len(px)))
	return nil
}

type logPin struct {
	log *slog.Logger
	n   int
}

func (p logPin) Set(level bool) { p.log.Info("alarm:pin", slog.Int("pin", p.n), slog.Bool("level", level)) }

func openAlarmPin(n int) (alarm.Pin, error) {
	return logPin{log: slog.Default(), n: n}, nil
}

// stdio is the host console link; closing it leaves the process streams open.
type stdio struct{}

func (stdio) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdio) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (stdio) Close() error                { return nil }
