package indication

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"picklight-go/bus"
	"picklight-go/services/dispatch"
	"picklight-go/types"
)

// fakeLED is a goroutine-safe strip recording which pixels are on.
type fakeLED struct {
	mu        sync.Mutex
	on        map[int]bool
	refreshes int
}

func newFakeLED() *fakeLED { return &fakeLED{on: map[int]bool{}} }

func (f *fakeLED) SetPixel(i int, r, g, b uint8) error {
	f.mu.Lock()
	f.on[i] = r|g|b != 0
	f.mu.Unlock()
	return nil
}

func (f *fakeLED) SetPixelHSV(i int, h uint16, s, v uint8) error {
	f.mu.Lock()
	f.on[i] = v != 0
	f.mu.Unlock()
	return nil
}

func (f *fakeLED) Clear() {
	f.mu.Lock()
	f.on = map[int]bool{}
	f.mu.Unlock()
}

func (f *fakeLED) Refresh() error {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return nil
}

func (f *fakeLED) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeLED) litCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.on {
		if v {
			n++
		}
	}
	return n
}

func baseConfig() map[string]any {
	return map[string]any{
		"enabled":           true,
		"strip_length":      64,
		"brightness":        20,
		"mode":              1,
		"locate_timeout_ms": 10000,
		"colors":            map[string]any{"green": 0x00FF00, "yellow": 0xFFD700, "red": 0xCD0000, "blue": 0x215BD9},
	}
}

type harness struct {
	b    *bus.Bus
	c    *bus.Connection
	led  *fakeLED
	stop context.CancelFunc
}

func startService(t *testing.T, cfg map[string]any) *harness {
	t.Helper()
	b := bus.NewBus(16)
	h := &harness{b: b, c: b.NewConnection("test"), led: newFakeLED()}
	stateSub := h.c.Subscribe(topicState)
	defer h.c.Unsubscribe(stateSub)

	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	t.Cleanup(cancel)

	go New(b.NewConnection("indication"), h.led, nil).Run(ctx)
	if cfg == nil {
		waitStatus(t, stateSub, "awaiting_config")
		return h
	}
	h.c.Publish(h.c.NewMessage(topicConfig, cfg, true))
	waitStatus(t, stateSub, "ready")
	return h
}

func waitStatus(t *testing.T, sub *bus.Subscription, status string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.ServiceState); ok && st.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %q", status)
		}
	}
}

func (h *harness) do(t *testing.T, ctrl, sub int, data string) types.CommandReply {
	t.Helper()
	cmd := types.Command{ControlType: ctrl, CmdType: sub}
	if data != "" {
		cmd.Data = json.RawMessage(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	m, err := h.c.RequestWait(ctx, h.c.NewMessage(topicRequest, cmd, false))
	if err != nil {
		t.Fatalf("request %d/%d: %v", ctrl, sub, err)
	}
	r, ok := m.Payload.(types.CommandReply)
	if !ok {
		t.Fatalf("unexpected reply payload %#v", m.Payload)
	}
	return r
}

func expectErr(t *testing.T, r types.CommandReply, code string) {
	t.Helper()
	if r.OK || r.Error != code {
		t.Fatalf("reply = %+v, want error %q", r, code)
	}
}

func TestNotReadyBeforeConfig(t *testing.T) {
	h := startService(t, nil)
	expectErr(t, h.do(t, types.CtrlOrderManage, types.CmdQueryResidues, ""), "not_ready")
}

func TestOrderFlowOverBus(t *testing.T) {
	h := startService(t, baseConfig())
	notes := h.c.Subscribe(topicNotify)

	r := h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder,
		`{"order":"A","time_stamp":42,"color":65280,"box_list":[["L1",1,8,1],["L2",9,16,2]]}`)
	if !r.OK {
		t.Fatalf("place: %+v", r)
	}

	alarm := h.c.Subscribe(topicAlarm)
	select {
	case m := <-alarm.Channel():
		if st := m.Payload.(types.AlarmState); !st.On(types.AlarmGreen) {
			t.Fatalf("alarm bits = %04b, want green", st.Bits)
		}
	case <-time.After(time.Second):
		t.Fatal("no retained alarm state")
	}

	if r := h.do(t, types.CtrlOrderManage, types.CmdQueryResidues, ""); !r.OK {
		t.Fatalf("query: %+v", r)
	}
	select {
	case m := <-notes.Channel():
		n := m.Payload.(types.Notify)
		list := n.Data.(types.ResidueList)
		if n.ControlType != types.CtrlOrderManage || n.NotifyType != types.NotifyResidues ||
			len(list.Orders) != 1 || list.Orders[0].Residue != 2 || list.Orders[0].TimeStamp != 42 {
			t.Fatalf("notify = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no residue notification")
	}

	if r := h.do(t, types.CtrlPickupComplete, types.CmdPickupCompleted, `{"order":"A","box":"L1","times":1}`); !r.OK {
		t.Fatalf("pickup: %+v", r)
	}
	expectErr(t, h.do(t, types.CtrlPickupComplete, types.CmdPickupCompleted, `{"order":"A","box":"L1","times":1}`), "not_found")

	if r := h.do(t, types.CtrlEndPickup, types.CmdEndPickupShadow, `{"order":"A"}`); !r.OK {
		t.Fatalf("end: %+v", r)
	}
	expectErr(t, h.do(t, types.CtrlEndPickup, types.CmdEndPickup, `{"order":"A"}`), "not_found")
}

func TestConflictReportedWithDetail(t *testing.T) {
	h := startService(t, baseConfig())
	place := `{"order":"A","time_stamp":1,"color":255,"box_list":[["L1",1,8,1]]}`
	if r := h.do(t, types.CtrlOrderManage, types.CmdPlaceOrderShadow, place); !r.OK {
		t.Fatalf("place: %+v", r)
	}
	r := h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder, place)
	expectErr(t, r, "conflict")
	if r.Detail == "" {
		t.Fatal("expected detail text")
	}
}

func TestDisabledStrip(t *testing.T) {
	cfg := baseConfig()
	cfg["enabled"] = false
	h := startService(t, cfg)

	expectErr(t, h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder,
		`{"order":"A","time_stamp":1,"color":255,"box_list":[["L1",1,8,1]]}`), "disabled")
	expectErr(t, h.do(t, types.CtrlStripDebug, types.CmdLocate, `{"start_led":1,"end_led":2}`), "disabled")
	if r := h.do(t, types.CtrlOrderManage, types.CmdQueryResidues, ""); !r.OK {
		t.Fatalf("query must work while disabled: %+v", r)
	}
}

func TestMalformedAndUnsupported(t *testing.T) {
	h := startService(t, baseConfig())

	expectErr(t, h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder, `{"order":"A","color":1,"box_list":[]}`), "invalid_payload")
	expectErr(t, h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder,
		`{"order":"A","time_stamp":1,"color":1,"box_list":[["L1",1,8]]}`), "invalid_payload")
	expectErr(t, h.do(t, types.CtrlPickupComplete, types.CmdPickupCompleted, `[1,2]`), "invalid_payload")
	expectErr(t, h.do(t, types.CtrlEndPickup, types.CmdEndPickup, ""), "invalid_payload")
	expectErr(t, h.do(t, 999, 1, `{}`), "unsupported")
	expectErr(t, h.do(t, types.CtrlStripDebug, 9, `{}`), "unsupported")
	expectErr(t, h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder,
		`{"order":"A","time_stamp":1,"color":1,"box_list":[["L1",60,70,1]]}`), "invalid_geometry")
}

func TestLocateTimesOut(t *testing.T) {
	cfg := baseConfig()
	cfg["locate_timeout_ms"] = 40
	h := startService(t, cfg)

	if r := h.do(t, types.CtrlStripDebug, types.CmdLocate, `{"start_led":1,"end_led":3}`); !r.OK {
		t.Fatalf("locate: %+v", r)
	}
	if n := h.led.litCount(); n != 3 {
		t.Fatalf("lit = %d, want 3", n)
	}
	deadline := time.Now().Add(time.Second)
	for h.led.litCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("locate pattern not cleared by timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPlaceLeavesLocate(t *testing.T) {
	h := startService(t, baseConfig())
	if r := h.do(t, types.CtrlStripDebug, types.CmdLocate, `{"start_led":30,"end_led":40}`); !r.OK {
		t.Fatalf("locate: %+v", r)
	}
	if r := h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder,
		`{"order":"A","time_stamp":1,"color":255,"box_list":[["L1",1,4,1]]}`); !r.OK {
		t.Fatalf("place: %+v", r)
	}
	deadline := time.Now().Add(time.Second)
	for h.led.litCount() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("lit = %d, want only the order's 4 LEDs", h.led.litCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBoxLightUpFromConfiguredGeometry(t *testing.T) {
	cfg := baseConfig()
	cfg["boxes"] = map[string]any{"A1": []any{1, 4}, "A2": []any{10, 13}}
	h := startService(t, cfg)

	if r := h.do(t, types.CtrlStripDebug, types.CmdBoxLightUp, `{"box_list":["A1","A2"],"color":255}`); !r.OK {
		t.Fatalf("light up: %+v", r)
	}
	if n := h.led.litCount(); n != 8 {
		t.Fatalf("lit = %d, want 8", n)
	}
	expectErr(t, h.do(t, types.CtrlStripDebug, types.CmdBoxLightUp, `{"box_list":["zz"],"color":255}`), "not_found")
}

func TestLongSequenceRepliesWithinDispatchTimeout(t *testing.T) {
	h := startService(t, baseConfig())
	d := dispatch.New(h.b.NewConnection("dispatch"), 300*time.Millisecond, nil)

	// 60 pixels at 50 ms each outlasts the dispatcher timeout many times over.
	r := d.Handle(context.Background(),
		[]byte(`{"control_type":215,"cmd_type":2,"data":{"start_led":1,"end_led":60,"color":255,"delay_ms":50}}`))
	if !r.OK {
		t.Fatalf("sequence reply = %+v", r)
	}

	before := h.led.refreshCount()
	deadline := time.Now().Add(time.Second)
	for h.led.refreshCount() < before+2 {
		if time.Now().After(deadline) {
			t.Fatal("sequence stopped painting after the reply")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The next command takes the strip back without waiting for the walk.
	if r := d.Handle(context.Background(),
		[]byte(`{"control_type":212,"cmd_type":1,"data":{"order":"A","time_stamp":1,"color":255,"box_list":[["L1",61,64,1]]}}`)); !r.OK {
		t.Fatalf("place reply = %+v", r)
	}
	deadline = time.Now().Add(time.Second)
	for h.led.litCount() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("lit = %d, want only the order's 4 LEDs", h.led.litCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(120 * time.Millisecond)
	if n := h.led.litCount(); n != 4 {
		t.Fatalf("lit = %d after placement, sequence still running", n)
	}
}

func TestRejectedOrderCommandClearsLocate(t *testing.T) {
	cfg := baseConfig()
	cfg["locate_timeout_ms"] = 40
	h := startService(t, cfg)

	if r := h.do(t, types.CtrlStripDebug, types.CmdLocate, `{"start_led":1,"end_led":10}`); !r.OK {
		t.Fatalf("locate: %+v", r)
	}
	expectErr(t, h.do(t, types.CtrlOrderManage, types.CmdPlaceOrder,
		`{"order":"","time_stamp":1,"color":255,"box_list":[["L1",1,4,1]]}`), "invalid_payload")

	time.Sleep(200 * time.Millisecond)
	if n := h.led.litCount(); n != 0 {
		t.Fatalf("locate pattern still lit %d LEDs", n)
	}
}
