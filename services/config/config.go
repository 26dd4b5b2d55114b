// Package config publishes the embedded per-device configuration as
// retained messages, one per top-level key, on config/<key>.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"picklight-go/bus"
	"picklight-go/types"
)

type ctxKey string

// CtxDeviceKey carries the device id in the context passed to Start.
const CtxDeviceKey ctxKey = "device"

// WithDevice returns ctx carrying the device id.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, CtxDeviceKey, device)
}

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

type Service struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log.With(slog.String("svc", "config"))}
}

// Publish decodes the device document and publishes every key retained.
// Keys go out in sorted order so dependants see a stable sequence.
func (s *Service) Publish(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if m == nil {
		return errors.New("embedded config is not a JSON object")
	}

	for _, k := range slices.Sorted(maps.Keys(m)) {
		conn.Publish(conn.NewMessage(bus.T(types.TokConfig, k), m[k], true))
	}
	s.log.Info("config:published", slog.String("device", device), slog.Int("keys", len(m)))
	return nil
}

// Start publishes in a goroutine, logging failures.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.Publish(ctx, conn); err != nil {
			s.log.Error("config:publish_failed", slog.String("err", err.Error()))
		}
	}()
}
