package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Ms converts a millisecond count from config into a Duration; d is used when ms <= 0.
func Ms(ms int, d time.Duration) time.Duration {
	if ms <= 0 {
		return d
	}
	return time.Duration(ms) * time.Millisecond
}

// ResetTimer stops, drains and rearms t.
func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	StopTimer(t)
	t.Reset(d)
}

// StopTimer stops t and discards a pending fire.
func StopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// NewStoppedTimer returns a timer that will not fire until reset.
func NewStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	StopTimer(t)
	return t
}

// Sleep waits for d or ctx-like cancellation on done; it reports whether d elapsed.
func Sleep(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
