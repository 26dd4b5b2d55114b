package mqttlink

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"picklight-go/bus"
	"picklight-go/services/dispatch"
	"picklight-go/types"
)

type fakePub struct {
	mu   sync.Mutex
	sent []string
}

func (p *fakePub) Publish(b []byte) error {
	p.mu.Lock()
	p.sent = append(p.sent, string(b))
	p.mu.Unlock()
	return nil
}

func (p *fakePub) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// serveIndication replies OK to place commands and not_found to the rest.
func serveIndication(t *testing.T, b *bus.Bus) {
	t.Helper()
	c := b.NewConnection("fake-indication")
	sub := c.Subscribe(bus.T(types.TokIndication, types.TokRequest))
	t.Cleanup(func() { c.Unsubscribe(sub) })
	go func() {
		for m := range sub.Channel() {
			cmd := m.Payload.(types.Command)
			if cmd.ControlType == types.CtrlOrderManage {
				c.Reply(m, types.CommandReply{OK: true}, false)
				continue
			}
			c.Reply(m, types.CommandReply{Error: "not_found"}, false)
		}
	}()
}

func newTestService(b *bus.Bus) *Service {
	disp := dispatch.New(b.NewConnection("dispatch"), 500*time.Millisecond, nil)
	return New(b.NewConnection("mqtt"), disp, nil)
}

func TestInboundEchoOnSuccessOnly(t *testing.T) {
	b := bus.NewBus(8)
	serveIndication(t, b)
	s := newTestService(b)
	pub := &fakePub{}

	ok := `{"control_type":212,"cmd_type":1,"data":{"order":"A"}}`
	s.handleInbound(context.Background(), []byte(ok), pub)
	s.handleInbound(context.Background(), []byte(`{"control_type":213,"cmd_type":1,"data":{}}`), pub)
	s.handleInbound(context.Background(), []byte(`garbage`), pub)

	got := pub.all()
	if len(got) != 1 || got[0] != ok {
		t.Fatalf("published %q, want only the successful command echoed", got)
	}
}

func TestForwardNotify(t *testing.T) {
	s := newTestService(bus.NewBus(4))
	pub := &fakePub{}

	s.forward(types.Notify{
		ControlType: types.CtrlOrderManage,
		NotifyType:  types.NotifyResidues,
		Data:        types.ResidueList{Orders: []types.ResidueOrder{{Order: "A", Residue: 1, TimeStamp: 9, Color: 255}}},
	}, pub)
	s.forward("not a notify", pub)

	want := `{"control_type":212,"notify_type":2,"data":{"order_list":[["A",1,9,255]]}}`
	if got := pub.all(); len(got) != 1 || got[0] != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func waitState(t *testing.T, sub *bus.Subscription, status string) types.ServiceState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.ServiceState); ok && st.Status == status {
				return st
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q", status)
		}
	}
}

func TestDialFailureRetries(t *testing.T) {
	prev := Dial
	t.Cleanup(func() { Dial = prev })

	var mu sync.Mutex
	attempts := 0
	Dial = func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	b := bus.NewBus(8)
	s := newTestService(b)
	c := b.NewConnection("test")
	states := c.Subscribe(topicState)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	c.Publish(c.NewMessage(topicConfig, map[string]any{
		"broker": "127.0.0.1:1", "sub_topic": "s2c/", "pub_topic": "c2s/",
	}, true))

	st := waitState(t, states, "link_down_retrying")
	if st.Level != "degraded" || st.Error == "" {
		t.Fatalf("state = %+v", st)
	}
	mu.Lock()
	n := attempts
	mu.Unlock()
	if n < 1 {
		t.Fatal("Dial was not called")
	}
}

func TestInvalidConfig(t *testing.T) {
	b := bus.NewBus(8)
	s := newTestService(b)
	c := b.NewConnection("test")
	states := c.Subscribe(topicState)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	c.Publish(c.NewMessage(topicConfig, map[string]any{"broker": "x:1"}, true))
	waitState(t, states, "config_invalid")
}

func TestBackoffSeq(t *testing.T) {
	next := backoffSeq(100*time.Millisecond, 350*time.Millisecond)
	want := []time.Duration{100, 200, 350, 350}
	for i, w := range want {
		if got := next(); got != w*time.Millisecond {
			t.Fatalf("step %d: %v, want %v", i, got, w*time.Millisecond)
		}
	}
}
