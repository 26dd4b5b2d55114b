// Package mqttlink carries upstream commands and notifications over MQTT.
//
// Every message arriving on the subscribe topic is a command envelope; it is
// dispatched on the bus and, when it succeeds, echoed back on the publish
// topic. Notifications published on notify/out are forwarded as JSON.
package mqttlink

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"picklight-go/bus"
	"picklight-go/services/dispatch"
	"picklight-go/types"
	"picklight-go/x/jsonx"
	"picklight-go/x/timex"

	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	maxPayload     = 2048
	connectTimeout = 10 * time.Second
	keepAlive      = 60 // seconds
)

var (
	topicConfig = bus.T(types.TokConfig, types.TokMQTT)
	topicState  = bus.T(types.TokMQTT, types.TokState)
	topicNotify = bus.T(types.TokNotify, types.TokOut)

	errNoDial = errors.New("mqttlink: Dial not set")

	pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)
)

// Dial opens the broker connection. Host builds default to TCP via net;
// devices inject their own network stack.
var Dial func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

type Service struct {
	conn *bus.Connection
	disp *dispatch.Dispatcher
	log  *slog.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
}

func New(conn *bus.Connection, disp *dispatch.Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{conn: conn, disp: disp, log: log.With(slog.String("svc", "mqtt"))}
}

// Run waits for config/mqtt and supervises one broker session at a time.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)
	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			var cfg types.MQTTConfig
			if err := jsonx.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if cfg.Broker == "" || cfg.SubTopic == "" || cfg.PubTopic == "" {
				s.publishState("error", "config_invalid", errors.New("broker, sub_topic and pub_topic are required"))
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.MQTTConfig) {
	s.stopCurrent()
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.curRun = cancel
	s.mu.Unlock()
	go s.runLink(ctx, cfg)
}

func (s *Service) runLink(ctx context.Context, cfg types.MQTTConfig) {
	dial := Dial
	if dial == nil {
		s.publishState("error", "no_dialer", errNoDial)
		return
	}
	backoff := backoffSeq(500*time.Millisecond, 30*time.Second)
	for {
		rwc, err := dial(ctx, cfg.Broker)
		if err == nil {
			err = s.session(ctx, cfg, rwc)
			_ = rwc.Close()
			if err == nil {
				return
			}
			backoff = backoffSeq(500*time.Millisecond, 30*time.Second)
		}
		if ctx.Err() != nil {
			return
		}
		delay := backoff()
		s.log.Warn("mqtt:link_down", slog.String("broker", cfg.Broker), slog.String("err", err.Error()), slog.Duration("retry_in", delay))
		s.publishState("degraded", "link_down_retrying", err)
		if !timex.Sleep(ctx.Done(), delay) {
			return
		}
	}
}

// session owns one connected client until ctx ends (nil) or the link fails.
func (s *Service) session(ctx context.Context, cfg types.MQTTConfig, rwc io.ReadWriteCloser) error {
	inbound := make(chan []byte, 4)
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 4096)},
		OnPub: func(_ mqtt.Header, vp mqtt.VariablesPublish, r io.Reader) error {
			b, err := io.ReadAll(io.LimitReader(r, maxPayload))
			if err != nil {
				return err
			}
			select {
			case inbound <- b:
			default:
				s.log.Warn("mqtt:inbound_dropped", slog.String("topic", string(vp.TopicName)))
			}
			return nil
		},
	})

	var vc mqtt.VariablesConnect
	vc.SetDefaultMQTT([]byte(cmp.Or(cfg.ClientID, "picklight")))
	vc.KeepAlive = keepAlive
	if cfg.Username != "" {
		vc.Username = []byte(cfg.Username)
		if cfg.Password != "" {
			vc.Password = []byte(cfg.Password)
		}
	}

	setDeadline(rwc, time.Now().Add(connectTimeout))
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := client.Connect(cctx, rwc, &vc)
	if err == nil {
		err = client.Subscribe(cctx, mqtt.VariablesSubscribe{
			PacketIdentifier: 1,
			TopicFilters:     []mqtt.SubscribeRequest{{TopicFilter: []byte(cfg.SubTopic), QoS: mqtt.QoS0}},
		})
	}
	cancel()
	setDeadline(rwc, time.Time{})
	if err != nil {
		return err
	}

	s.log.Info("mqtt:connected", slog.String("broker", cfg.Broker), slog.String("sub", cfg.SubTopic))
	s.publishState("up", "connected", nil)

	rxErr := make(chan error, 1)
	go func() {
		for {
			if err := client.HandleNext(); err != nil {
				rxErr <- err
				return
			}
		}
	}()

	notes := s.conn.Subscribe(topicNotify)
	defer s.conn.Unsubscribe(notes)
	ping := time.NewTicker(keepAlive * time.Second / 2)
	defer ping.Stop()

	pub := &clientPublisher{client: client, topic: []byte(cfg.PubTopic)}
	for {
		select {
		case <-ctx.Done():
			if b, err := encodeNotify(types.Notify{ControlType: types.CtrlLinkState, NotifyType: types.NotifyLinkOffline, Data: struct{}{}}); err == nil {
				_ = pub.Publish(b)
			}
			_ = client.Disconnect(errors.New("shutdown"))
			s.publishState("stopped", "disconnected", nil)
			return nil
		case err := <-rxErr:
			return err
		case b := <-inbound:
			s.handleInbound(ctx, b, pub)
		case m, ok := <-notes.Channel():
			if !ok {
				return errors.New("notify subscription closed")
			}
			s.forward(m.Payload, pub)
		case <-ping.C:
			if err := client.StartPing(); err != nil {
				return err
			}
		}
	}
}

func setDeadline(rwc io.ReadWriteCloser, t time.Time) {
	if d, ok := rwc.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(t)
	}
}

// publisher sends one payload on the upstream topic.
type publisher interface {
	Publish(payload []byte) error
}

type clientPublisher struct {
	client *mqtt.Client
	topic  []byte
	id     uint16
}

func (p *clientPublisher) Publish(payload []byte) error {
	p.id++
	if p.id == 0 {
		p.id = 1
	}
	return p.client.PublishPayload(pubFlags, mqtt.VariablesPublish{TopicName: p.topic, PacketIdentifier: p.id}, payload)
}

// handleInbound dispatches one command and echoes it upstream on success.
func (s *Service) handleInbound(ctx context.Context, raw []byte, pub publisher) {
	r := s.disp.Handle(ctx, raw)
	if !r.OK {
		s.log.Warn("mqtt:command_rejected", slog.String("error", r.Error), slog.String("detail", r.Detail))
		return
	}
	if err := pub.Publish(raw); err != nil {
		s.log.Warn("mqtt:echo_failed", slog.String("err", err.Error()))
	}
}

func (s *Service) forward(payload any, pub publisher) {
	n, ok := payload.(types.Notify)
	if !ok {
		return
	}
	b, err := encodeNotify(n)
	if err != nil {
		s.log.Warn("mqtt:notify_encode_failed", slog.String("err", err.Error()))
		return
	}
	if err := pub.Publish(b); err != nil {
		s.log.Warn("mqtt:notify_publish_failed", slog.String("err", err.Error()))
	}
}

func encodeNotify(n types.Notify) ([]byte, error) { return json.Marshal(n) }

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}
