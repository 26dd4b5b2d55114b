// Package dispatch turns raw upstream command envelopes into bus requests
// and reports their outcome.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"picklight-go/bus"
	"picklight-go/errcode"
	"picklight-go/types"
)

const DefaultTimeout = 2 * time.Second

var topicRequest = bus.T(types.TokIndication, types.TokRequest)

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	conn    *bus.Connection
	timeout time.Duration
	log     *slog.Logger
}

func New(conn *bus.Connection, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{conn: conn, timeout: timeout, log: log}
}

// Parse decodes and checks an envelope; control_type, cmd_type and data
// must all be present (data may be empty for queries).
func Parse(raw []byte) (types.Command, error) {
	var probe struct {
		ControlType *int            `json:"control_type"`
		CmdType     *int            `json:"cmd_type"`
		Data        json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&probe); err != nil {
		return types.Command{}, &errcode.E{C: errcode.InvalidPayload, Op: "parse", Msg: err.Error(), Err: err}
	}
	if probe.ControlType == nil || probe.CmdType == nil {
		return types.Command{}, errcode.New(errcode.InvalidPayload, "parse", "control_type and cmd_type are required")
	}
	if probe.Data == nil && !isQuery(*probe.ControlType, *probe.CmdType) {
		return types.Command{}, errcode.New(errcode.InvalidPayload, "parse", "data is required")
	}
	return types.Command{ControlType: *probe.ControlType, CmdType: *probe.CmdType, Data: probe.Data}, nil
}

func isQuery(ctrl, sub int) bool {
	return ctrl == types.CtrlOrderManage && sub == types.CmdQueryResidues
}

// routes reports whether the control type is served on the bus.
func routes(ctrl int) bool {
	switch ctrl {
	case types.CtrlOrderManage, types.CtrlPickupComplete, types.CtrlEndPickup, types.CtrlStripDebug:
		return true
	}
	return false
}

// Handle parses raw, forwards it and waits for the reply.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) types.CommandReply {
	cmd, err := Parse(raw)
	if err != nil {
		return failure(err)
	}
	return d.Do(ctx, cmd)
}

// Do forwards an already parsed command.
func (d *Dispatcher) Do(ctx context.Context, cmd types.Command) types.CommandReply {
	if !routes(cmd.ControlType) {
		return failure(errcode.New(errcode.Unsupported, "dispatch", "unknown control_type"))
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	m, err := d.conn.RequestWait(ctx, d.conn.NewMessage(topicRequest, cmd, false))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errcode.New(errcode.Timeout, "dispatch", "no reply from indication")
		}
		d.log.Warn("dispatch:request_failed", slog.Int("control_type", cmd.ControlType), slog.String("err", err.Error()))
		return failure(err)
	}
	r, ok := m.Payload.(types.CommandReply)
	if !ok {
		return failure(errcode.New(errcode.Error, "dispatch", "malformed reply"))
	}
	return r
}

func failure(err error) types.CommandReply {
	return types.CommandReply{Error: string(errcode.Of(err)), Detail: errcode.Detail(err)}
}
