// Package console serves the command protocol over a local serial link.
//
// Each inbound line is a JSON command envelope; the console answers every
// line with one CommandReply line. Notifications published on notify/out
// are written to the link as JSON lines as well.
package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"picklight-go/bus"
	"picklight-go/errcode"
	"picklight-go/services/dispatch"
	"picklight-go/types"
	"picklight-go/x/jsonx"
	"picklight-go/x/timex"
)

const maxLine = 2048

var (
	topicConfig = bus.T(types.TokConfig, types.TokConsole)
	topicState  = bus.T(types.TokConsole, types.TokState)
	topicNotify = bus.T(types.TokNotify, types.TokOut)

	errNoDial   = errors.New("UARTDial not implemented")
	errTooLong  = errcode.New(errcode.InvalidPayload, "console", "line too long")
	errNotifyCh = errors.New("notify subscription closed")
)

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
	return &Service{conn: conn, disp: disp, log: log.With(slog.String("svc", "console"))}
}

// Run blocks until ctx is cancelled, (re)starting the link on each config/console.
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
			var cfg types.ConsoleConfig
			if err := jsonx.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
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

func (s *Service) reconfigure(parent context.Context, cfg types.ConsoleConfig) {
	s.stopCurrent()
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.curRun = cancel
	s.mu.Unlock()
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.ConsoleConfig) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		if ctx.Err() != nil {
			return
		}
		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !timex.Sleep(ctx.Done(), delay) {
				return
			}
			continue
		}

		s.log.Info("console:link_up", slog.String("transport", tr.String()))
		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, rwc)
		_ = rwc.Close()
		if err == nil {
			s.publishState("stopped", "link_closed", nil)
			return
		}
		delay := backoff()
		s.log.Warn("console:link_lost", slog.String("err", err.Error()), slog.Duration("retry_in", delay))
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !timex.Sleep(ctx.Done(), delay) {
			return
		}
	}
}

// handleLink owns the active link until ctx ends (nil) or I/O fails.
// All writes happen on this goroutine.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	lines := make(chan []byte, 4)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readLines(rwc, lines, errCh, done)

	notes := s.conn.Subscribe(topicNotify)
	defer s.conn.Unsubscribe(notes)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			r := s.handleLine(ctx, line)
			if err := writeJSON(rwc, r); err != nil {
				return err
			}
		case m, ok := <-notes.Channel():
			if !ok {
				return errNotifyCh
			}
			n, isNotify := m.Payload.(types.Notify)
			if !isNotify {
				continue
			}
			if err := writeJSON(rwc, n); err != nil {
				return err
			}
		}
	}
}

func (s *Service) handleLine(ctx context.Context, line []byte) types.CommandReply {
	if line == nil {
		return types.CommandReply{Error: string(errcode.Of(errTooLong)), Detail: errcode.Detail(errTooLong)}
	}
	r := s.disp.Handle(ctx, line)
	if !r.OK {
		s.log.Debug("console:command_rejected", slog.String("error", r.Error), slog.String("detail", r.Detail))
	}
	return r
}

// readLines delivers trimmed non-empty lines; an overlong line is reported
// as a nil slice once its remainder has been discarded.
func readLines(r io.Reader, out chan<- []byte, errCh chan<- error, done <-chan struct{}) {
	br := bufio.NewReaderSize(r, maxLine)
	send := func(b []byte) bool {
		select {
		case out <- b:
			return true
		case <-done:
			return false
		}
	}
	for {
		b, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
			if err != nil {
				errCh <- err
				return
			}
			if !send(nil) {
				return
			}
			continue
		}
		if err != nil {
			errCh <- err
			return
		}
		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}
		if !send(bytes.Clone(b)) {
			return
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(types.TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport adds a named transport (eg. "stdio" on hosts).
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg types.TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	if cfg.Type == "uart" {
		if cfg.UART == nil {
			return nil, errors.New("uart transport requires uart config")
		}
		return &uartTransport{cfg: *cfg.UART}, nil
	}
	return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
}

// UARTDial is injected by platform code.
var UARTDial func(ctx context.Context, u types.UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct{ cfg types.UARTConfig }

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, u.cfg)
}

func (u *uartTransport) String() string { return "uart" }

// FuncTransport adapts a dial function to Transport.
type FuncTransport struct {
	Name string
	Dial func(ctx context.Context) (io.ReadWriteCloser, error)
}

func (f FuncTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) { return f.Dial(ctx) }

func (f FuncTransport) String() string { return f.Name }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
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
