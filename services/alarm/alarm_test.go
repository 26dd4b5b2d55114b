package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"picklight-go/bus"
	"picklight-go/types"
)

type fakePins struct {
	mu     sync.Mutex
	levels map[int]bool
}

type fakePin struct {
	f *fakePins
	n int
}

func (p fakePin) Set(level bool) {
	p.f.mu.Lock()
	p.f.levels[p.n] = level
	p.f.mu.Unlock()
}

func (f *fakePins) open(n int) (Pin, error) {
	if n < 0 {
		return nil, errors.New("no such pin")
	}
	return fakePin{f: f, n: n}, nil
}

func (f *fakePins) snapshot() map[int]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]bool, len(f.levels))
	for k, v := range f.levels {
		out[k] = v
	}
	return out
}

func waitLevels(t *testing.T, f *fakePins, want map[int]bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		got := f.snapshot()
		match := len(got) == len(want)
		for k, v := range want {
			if got[k] != v {
				match = false
			}
		}
		if match {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("levels = %v, want %v", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAlarm_DrivesLampsFromState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("alarm_test")
	pins := &fakePins{levels: map[int]bool{}}

	// State before config must be applied once pins exist.
	conn.Publish(conn.NewMessage(topicAlarm, types.AlarmState{Bits: types.AlarmGreen | types.AlarmRed}, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(b.NewConnection("alarm"), pins.open, nil).Run(ctx)

	conn.Publish(conn.NewMessage(topicConfig, `{"pins":[10,11,12,13]}`, true))
	waitLevels(t, pins, map[int]bool{10: true, 11: false, 12: true, 13: false})

	conn.Publish(conn.NewMessage(topicAlarm, types.AlarmState{Bits: types.AlarmBlue}, true))
	waitLevels(t, pins, map[int]bool{10: false, 11: false, 12: false, 13: true})
}

func TestAlarm_ActiveLowAndBadPin(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("alarm_test")
	pins := &fakePins{levels: map[int]bool{}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(b.NewConnection("alarm"), pins.open, nil).Run(ctx)

	conn.Publish(conn.NewMessage(topicConfig, map[string]any{"pins": []any{1, -1, 3, 4}, "active_low": true}, true))
	conn.Publish(conn.NewMessage(topicAlarm, types.AlarmState{Bits: types.AlarmYellow | types.AlarmRed}, true))

	// Pin -1 failed to open; the rest are inverted.
	waitLevels(t, pins, map[int]bool{1: true, 3: false, 4: true})
}
