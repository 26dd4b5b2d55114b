package types

// Configuration supplied retained on config/<key>.

// IndicationConfig is config/indication.
type IndicationConfig struct {
	Enabled         bool              `json:"enabled"`
	StripLength     int               `json:"strip_length"`
	Brightness      uint8             `json:"brightness"`
	Mode            int               `json:"mode"`          // 1 unlimited, 2 capped
	OrderLEDCap     int               `json:"order_led_cap"` // per-order width limit in capped mode
	AllowOverwrite  bool              `json:"allow_overwrite"`
	LocateTimeoutMS int               `json:"locate_timeout_ms"`
	Colors          AlarmColors       `json:"colors"`
	Boxes           map[string][2]int `json:"boxes,omitempty"` // name -> [start_led, end_led]
}

// AlarmColors are the reserved 0xRRGGBB order colors mapped to alarm lamps.
type AlarmColors struct {
	Green  uint32 `json:"green"`
	Yellow uint32 `json:"yellow"`
	Red    uint32 `json:"red"`
	Blue   uint32 `json:"blue"`
}

// DefaultIndicationConfig mirrors the factory defaults of the terminal.
func DefaultIndicationConfig() IndicationConfig {
	return IndicationConfig{
		Enabled:         true,
		StripLength:     2400,
		Brightness:      20,
		Mode:            1,
		OrderLEDCap:     1,
		LocateTimeoutMS: 10000,
		Colors: AlarmColors{
			Green:  0x00FF00,
			Yellow: 0xFFD700,
			Red:    0xCD0000,
			Blue:   0x215BD9,
		},
	}
}

// MQTTConfig is config/mqtt.
type MQTTConfig struct {
	Broker   string `json:"broker"` // host:port
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SubTopic string `json:"sub_topic"`
	PubTopic string `json:"pub_topic"`
}

// ConsoleConfig is config/console.
type ConsoleConfig struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "uart" or a name registered via console.RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig carries enough for an injected dialler to open the UART.
type UARTConfig struct {
	Baud  int `json:"baud"`
	RxPin int `json:"rx_pin"` // platform pin numbers
	TxPin int `json:"tx_pin"`
}

// AlarmConfig is config/alarm.
type AlarmConfig struct {
	Pins      [4]int `json:"pins"` // green, yellow, red, blue
	ActiveLow bool   `json:"active_low,omitempty"`
}

// HeartbeatConfig is config/heartbeat.
type HeartbeatConfig struct {
	Interval float64 `json:"interval"` // seconds
}
