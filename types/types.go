package types

// ServiceState is the retained level/status every service publishes on <name>/state.
type ServiceState struct {
	Level  string `json:"level"`  // "idle", "up", "degraded", "error", "stopped"
	Status string `json:"status"` // short machine string
	TS     int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

// Heartbeat is published on system/heartbeat.
type Heartbeat struct {
	Seq    uint32 `json:"seq"`
	TS     int64  `json:"ts_ms"`
	Uptime int64  `json:"uptime_s"`
}

// Topic tokens shared between services.
const (
	TokConfig     = "config"
	TokState      = "state"
	TokIndication = "indication"
	TokRequest    = "request"
	TokNotify     = "notify"
	TokOut        = "out"
	TokAlarm      = "alarm"
	TokSystem     = "system"
	TokHeartbeat  = "heartbeat"
	TokMQTT       = "mqtt"
	TokConsole    = "console"
)
