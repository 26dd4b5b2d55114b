// Package heartbeat publishes a periodic liveness beat on system/heartbeat.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"picklight-go/bus"
	"picklight-go/types"
	"picklight-go/x/jsonx"
	"picklight-go/x/timex"
)

var (
	topicConfig = bus.T(types.TokConfig, types.TokHeartbeat)
	topicBeat   = bus.T(types.TokSystem, types.TokHeartbeat)
)

const defaultInterval = time.Second

type Service struct {
	conn  *bus.Connection
	log   *slog.Logger
	start time.Time
	seq   uint32
}

func New(conn *bus.Connection, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{conn: conn, log: log.With(slog.String("svc", "heartbeat"))}
}

// Run beats every interval until ctx is cancelled; config/heartbeat changes the interval.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.start = time.Now()
	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat:stopping")
			return
		case <-tick.C:
			s.beat()
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			var cfg types.HeartbeatConfig
			if err := jsonx.DecodeJSON(msg.Payload, &cfg); err != nil || cfg.Interval <= 0 {
				s.log.Warn("heartbeat:bad_config", slog.Any("payload", msg.Payload))
				continue
			}
			iv := time.Duration(cfg.Interval * float64(time.Second))
			tick.Reset(iv)
			s.log.Info("heartbeat:interval", slog.Duration("every", iv))
		}
	}
}

func (s *Service) beat() {
	s.seq++
	hb := types.Heartbeat{
		Seq:    s.seq,
		TS:     timex.NowMs(),
		Uptime: int64(time.Since(s.start) / time.Second),
	}
	s.conn.Publish(s.conn.NewMessage(topicBeat, hb, false))
	s.log.Debug("heartbeat:beat", slog.Int("seq", int(hb.Seq)))
}
