//go:build rp2040 && !picow

package main

import (
	"context"
	"errors"
	"log/slog"
)

func setupNetwork(context.Context, *slog.Logger) error {
	return errors.New("board has no network; build with -tags picow for MQTT")
}
