// Package indication serves the order/box commands (control types 212..215)
// on the bus and owns the indication engine.
package indication

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"picklight-go/bus"
	"picklight-go/errcode"
	"picklight-go/services/indication/engine"
	"picklight-go/types"
	"picklight-go/x/jsonx"
	"picklight-go/x/timex"
)

var (
	topicConfig  = bus.T(types.TokConfig, types.TokIndication)
	topicRequest = bus.T(types.TokIndication, types.TokRequest)
	topicState   = bus.T(types.TokIndication, types.TokState)
	topicNotify  = bus.T(types.TokNotify, types.TokOut)
	topicAlarm   = bus.T(types.TokAlarm, types.TokState)
)

const defaultLocateTimeout = 10 * time.Second

type Service struct {
	conn  *bus.Connection
	strip engine.LEDDriver
	log   *slog.Logger

	eng    *engine.Engine
	cfg    types.IndicationConfig
	locate *time.Timer
}

// New returns a service painting on strip. log may be nil.
func New(conn *bus.Connection, strip engine.LEDDriver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{conn: conn, strip: strip, log: log.With(slog.String("svc", "indication"))}
}

// Run blocks until ctx is cancelled. Requests are rejected with not_ready
// until the first config/indication message arrives.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)
	reqSub := s.conn.Subscribe(topicRequest)
	defer s.conn.Unsubscribe(reqSub)

	s.locate = timex.NewStoppedTimer()
	defer s.locate.Stop()

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			s.applyConfig(ctx, msg.Payload)
		case msg, ok := <-reqSub.Channel():
			if !ok {
				return
			}
			s.handleRequest(ctx, msg)
		case <-s.locate.C:
			if s.eng != nil && s.eng.EndDebug() {
				s.log.Info("indication:locate_timeout")
			}
		}
	}
}

func (s *Service) applyConfig(ctx context.Context, payload any) {
	cfg := types.DefaultIndicationConfig()
	if err := jsonx.DecodeJSON(payload, &cfg); err != nil {
		s.publishState("error", "config_decode_failed", err)
		return
	}
	if cfg.StripLength <= 0 || cfg.OrderLEDCap < 0 {
		s.publishState("error", "config_invalid", errcode.New(errcode.InvalidParams, "config", "strip_length/order_led_cap"))
		return
	}
	s.cfg = cfg

	if s.eng != nil {
		s.eng.Configure(engine.ConfigFrom(cfg))
		s.log.Info("indication:reconfigured", slog.Int("brightness", int(cfg.Brightness)), slog.Int("mode", cfg.Mode))
		s.publishState("up", "reconfigured", nil)
		return
	}

	if r, ok := s.strip.(interface{ Resize(int) }); ok {
		r.Resize(cfg.StripLength)
	}
	s.eng = engine.New(engine.ConfigFrom(cfg), s.strip, engine.AlarmFunc(s.publishAlarm), s.log)
	go s.eng.Run(ctx)
	s.publishAlarm(0)

	s.log.Info("indication:ready",
		slog.Int("strip_length", cfg.StripLength),
		slog.Bool("enabled", cfg.Enabled),
		slog.Int("mode", cfg.Mode))
	s.publishState("up", "ready", nil)
}

func (s *Service) handleRequest(ctx context.Context, msg *bus.Message) {
	var cmd types.Command
	if err := jsonx.DecodeJSON(msg.Payload, &cmd); err != nil {
		s.reply(msg, errcode.New(errcode.InvalidPayload, "decode", err.Error()))
		return
	}
	err := s.execute(ctx, cmd)
	if err != nil {
		s.log.Warn("indication:command_failed",
			slog.Int("control_type", cmd.ControlType),
			slog.Int("cmd_type", cmd.CmdType),
			slog.String("err", err.Error()))
	}
	s.reply(msg, err)
}

func (s *Service) reply(msg *bus.Message, err error) {
	r := types.CommandReply{OK: err == nil}
	if err != nil {
		r.Error = string(errcode.Of(err))
		r.Detail = errcode.Detail(err)
	}
	s.conn.Reply(msg, r, false)
}

func (s *Service) execute(ctx context.Context, cmd types.Command) error {
	if s.eng == nil {
		return errcode.NotReady
	}
	switch cmd.ControlType {
	case types.CtrlOrderManage:
		switch cmd.CmdType {
		case types.CmdPlaceOrder, types.CmdPlaceOrderShadow:
			if err := s.enabled(); err != nil {
				return err
			}
			req, err := decodeData[types.PlaceOrder]("place", cmd.Data, "order", "time_stamp", "color", "box_list")
			if err != nil {
				return err
			}
			s.stopLocate()
			return s.eng.Place(req)
		case types.CmdQueryResidues:
			s.notify(types.CtrlOrderManage, types.NotifyResidues, types.ResidueList{Orders: s.eng.Residues()})
			return nil
		}

	case types.CtrlPickupComplete:
		if cmd.CmdType == types.CmdPickupCompleted {
			if err := s.enabled(); err != nil {
				return err
			}
			req, err := decodeData[types.PickupCompleted]("pickup", cmd.Data, "order", "box", "times")
			if err != nil {
				return err
			}
			s.stopLocate()
			return s.eng.Pickup(req)
		}

	case types.CtrlEndPickup:
		switch cmd.CmdType {
		case types.CmdEndPickup, types.CmdEndPickupShadow:
			if err := s.enabled(); err != nil {
				return err
			}
			req, err := decodeData[types.EndPickup]("end", cmd.Data, "order")
			if err != nil {
				return err
			}
			s.stopLocate()
			return s.eng.End(req)
		}

	case types.CtrlStripDebug:
		if err := s.enabled(); err != nil {
			return err
		}
		return s.debug(ctx, cmd)
	}
	return errcode.New(errcode.Unsupported, "dispatch",
		strconv.Itoa(cmd.ControlType)+"/"+strconv.Itoa(cmd.CmdType))
}

func (s *Service) debug(ctx context.Context, cmd types.Command) error {
	switch cmd.CmdType {
	case types.CmdLocate:
		req, err := decodeData[types.Locate]("locate", cmd.Data, "start_led", "end_led")
		if err != nil {
			return err
		}
		if err := s.eng.Locate(req); err != nil {
			return err
		}
		s.armLocate()
		return nil
	case types.CmdSequence:
		req, err := decodeData[types.Sequence]("sequence", cmd.Data, "start_led", "end_led", "color")
		if err != nil {
			return err
		}
		s.stopLocate()
		return s.eng.Sequence(ctx, req)
	case types.CmdBoxLightUp:
		req, err := decodeData[types.BoxLightUp]("box_light_up", cmd.Data, "box_list", "color")
		if err != nil {
			return err
		}
		if err := s.eng.BoxLightUp(req); err != nil {
			return err
		}
		if len(req.Boxes) > 0 {
			s.armLocate()
		} else {
			s.stopLocate()
		}
		return nil
	}
	return errcode.New(errcode.Unsupported, "debug", strconv.Itoa(cmd.CmdType))
}

func (s *Service) enabled() error {
	if !s.cfg.Enabled {
		return errcode.Disabled
	}
	return nil
}

func (s *Service) armLocate() {
	timex.ResetTimer(s.locate, timex.Ms(s.cfg.LocateTimeoutMS, defaultLocateTimeout))
}

func (s *Service) stopLocate() { timex.StopTimer(s.locate) }

func (s *Service) notify(ctrl, typ int, data any) {
	s.conn.Publish(s.conn.NewMessage(topicNotify, types.Notify{
		ControlType: ctrl,
		NotifyType:  typ,
		Data:        data,
	}, false))
}

func (s *Service) publishAlarm(bits uint8) {
	s.conn.Publish(s.conn.NewMessage(topicAlarm, types.AlarmState{Bits: bits, TS: timex.NowMs()}, true))
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}
