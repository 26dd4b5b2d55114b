// Package alarm drives the four tower lamps (green, yellow, red, blue) from
// the retained alarm/state published by the indication service.
package alarm

import (
	"context"
	"log/slog"

	"picklight-go/bus"
	"picklight-go/types"
	"picklight-go/x/jsonx"
)

var (
	topicConfig = bus.T(types.TokConfig, types.TokAlarm)
	topicAlarm  = bus.T(types.TokAlarm, types.TokState)
)

// lampBits is the lamp order of AlarmConfig.Pins.
var lampBits = [4]uint8{types.AlarmGreen, types.AlarmYellow, types.AlarmRed, types.AlarmBlue}

// Pin is a digital output.
type Pin interface {
	Set(level bool)
}

// PinFactory opens the output for a platform pin number.
type PinFactory func(n int) (Pin, error)

type Service struct {
	conn *bus.Connection
	open PinFactory
	log  *slog.Logger

	pins   [4]Pin
	invert bool
	bits   uint8
}

func New(conn *bus.Connection, open PinFactory, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{conn: conn, open: open, log: log.With(slog.String("svc", "alarm"))}
}

// Run blocks until ctx is cancelled. State received before config is
// remembered and applied once the pins exist.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)
	stSub := s.conn.Subscribe(topicAlarm)
	defer s.conn.Unsubscribe(stSub)

	for {
		select {
		case <-ctx.Done():
			s.apply(0)
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			var cfg types.AlarmConfig
			if err := jsonx.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.log.Warn("alarm:config_decode_failed", slog.String("err", err.Error()))
				continue
			}
			s.configure(cfg)
			s.apply(s.bits)
		case msg, ok := <-stSub.Channel():
			if !ok {
				return
			}
			st, isState := msg.Payload.(types.AlarmState)
			if !isState {
				continue
			}
			s.apply(st.Bits)
		}
	}
}

func (s *Service) configure(cfg types.AlarmConfig) {
	s.invert = cfg.ActiveLow
	for i, n := range cfg.Pins {
		p, err := s.open(n)
		if err != nil {
			s.log.Error("alarm:pin_open_failed", slog.Int("pin", n), slog.String("err", err.Error()))
		}
		s.pins[i] = p
	}
	s.log.Info("alarm:configured", slog.Any("pins", cfg.Pins), slog.Bool("active_low", cfg.ActiveLow))
}

func (s *Service) apply(bits uint8) {
	s.bits = bits
	for i, p := range s.pins {
		if p == nil {
			continue
		}
		on := bits&lampBits[i] != 0
		p.Set(on != s.invert)
	}
}
