package types

import "encoding/json"

// Control types carried in the "control_type" field of upstream messages.
const (
	CtrlLinkState      = 153
	CtrlOrderManage    = 212
	CtrlPickupComplete = 213
	CtrlEndPickup      = 214
	CtrlStripDebug     = 215
)

// Order manage subtypes (212).
const (
	CmdPlaceOrder       = 1
	CmdPlaceOrderShadow = 2 // same payload, issued by the flow-based shadow system
	CmdQueryResidues    = 3
)

// Pickup subtypes (213).
const CmdPickupCompleted = 1

// End instruction subtypes (214).
const (
	CmdEndPickup       = 1
	CmdEndPickupShadow = 2
)

// Strip debug subtypes (215).
const (
	CmdLocate     = 1
	CmdSequence   = 2
	CmdBoxLightUp = 3
)

// Notify subtypes.
const (
	NotifyLinkOffline = 1 // 153, used as the MQTT last will
	NotifyResidues    = 2 // 212
)

// Command is the inbound envelope: {control_type, cmd_type, data}.
type Command struct {
	ControlType int             `json:"control_type"`
	CmdType     int             `json:"cmd_type"`
	Data        json.RawMessage `json:"data"`
}

// Notify is the outbound envelope: {control_type, notify_type, data}.
type Notify struct {
	ControlType int `json:"control_type"`
	NotifyType  int `json:"notify_type"`
	Data        any `json:"data"`
}

// CommandReply is the outcome of a dispatched command.
type CommandReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}
