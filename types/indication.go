package types

import (
	"encoding/json"
	"errors"
)

// PlaceOrder is the data of 212/1 and 212/2.
type PlaceOrder struct {
	Order     string     `json:"order"`
	TimeStamp uint64     `json:"time_stamp"`
	Color     uint32     `json:"color"`
	Boxes     []BoxEntry `json:"box_list"`
}

// BoxEntry travels as a 4-element array: [name, start_led, end_led, take_times].
type BoxEntry struct {
	Box       string
	StartLED  int
	EndLED    int
	TakeTimes int
}

var errBoxEntry = errors.New("box entry must be [name, start_led, end_led, take_times]")

func (e *BoxEntry) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || len(raw) != 4 {
		return errBoxEntry
	}
	if err := json.Unmarshal(raw[0], &e.Box); err != nil {
		return errBoxEntry
	}
	for i, dst := range []*int{&e.StartLED, &e.EndLED, &e.TakeTimes} {
		if err := json.Unmarshal(raw[i+1], dst); err != nil || *dst < 0 {
			return errBoxEntry
		}
	}
	return nil
}

func (e BoxEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Box, e.StartLED, e.EndLED, e.TakeTimes})
}

// PickupCompleted is the data of 213/1.
type PickupCompleted struct {
	Order string `json:"order"`
	Box   string `json:"box"`
	Times int    `json:"times"`
}

// EndPickup is the data of 214/1 and 214/2.
type EndPickup struct {
	Order string `json:"order"`
}

// Locate is the data of 215/1.
type Locate struct {
	StartLED int `json:"start_led"`
	EndLED   int `json:"end_led"`
}

// Sequence is the data of 215/2. Brightness 0 means the configured one.
type Sequence struct {
	StartLED   int    `json:"start_led"`
	EndLED     int    `json:"end_led"`
	Color      uint32 `json:"color"`
	Brightness uint8  `json:"brightness,omitempty"`
	DelayMS    int    `json:"delay_ms,omitempty"`
}

// BoxLightUp is the data of 215/3. An empty list clears the strip.
type BoxLightUp struct {
	Boxes      []string `json:"box_list"`
	Color      uint32   `json:"color"`
	Brightness uint8    `json:"brightness,omitempty"`
}

// ResidueOrder travels as [order, residue, time_stamp, color].
type ResidueOrder struct {
	Order     string
	Residue   int
	TimeStamp uint64
	Color     uint32
}

func (r ResidueOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Order, r.Residue, r.TimeStamp, r.Color})
}

func (r *ResidueOrder) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return errors.New("residue entry must have 4 items")
	}
	for i, dst := range []any{&r.Order, &r.Residue, &r.TimeStamp, &r.Color} {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return err
		}
	}
	return nil
}

// ResidueList is the data of notify 212/2.
type ResidueList struct {
	Orders []ResidueOrder `json:"order_list"`
}

// Alarm light bits.
const (
	AlarmGreen  uint8 = 1 << 0
	AlarmYellow uint8 = 1 << 1
	AlarmRed    uint8 = 1 << 2
	AlarmBlue   uint8 = 1 << 3
)

// AlarmState is published retained on alarm/state.
type AlarmState struct {
	Bits uint8 `json:"bits"`
	TS   int64 `json:"ts_ms"`
}

func (a AlarmState) On(bit uint8) bool { return a.Bits&bit != 0 }
