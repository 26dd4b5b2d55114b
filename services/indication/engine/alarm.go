package engine

import "picklight-go/types"

// alarmBitsLocked sets a lamp bit for every reserved color carried by an
// order that still holds boxes.
func (e *Engine) alarmBitsLocked() uint8 {
	c := e.cfg.Colors
	var bits uint8
	for _, o := range e.orders {
		if o.No == 0 || o.Residue <= 0 {
			continue
		}
		if o.Color == c.Green {
			bits |= types.AlarmGreen
		}
		if o.Color == c.Yellow {
			bits |= types.AlarmYellow
		}
		if o.Color == c.Red {
			bits |= types.AlarmRed
		}
		if o.Color == c.Blue {
			bits |= types.AlarmBlue
		}
	}
	return bits
}

func (e *Engine) syncAlarmLocked() {
	e.alarm.SetAlarm(e.alarmBitsLocked())
}

// Alarm returns the current lamp bits.
func (e *Engine) Alarm() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alarmBitsLocked()
}
