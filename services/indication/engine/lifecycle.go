package engine

import (
	"log/slog"

	"picklight-go/errcode"
	"picklight-go/types"
)

func checkName(op, what, name string) error {
	if name == "" {
		return errcode.New(errcode.InvalidPayload, op, what+" name is empty")
	}
	if len(name) > MaxNameLen {
		return errcode.New(errcode.InvalidPayload, op, what+" name too long: "+name)
	}
	return nil
}

func (e *Engine) checkGeometry(op string, be types.BoxEntry) error {
	switch {
	case be.StartLED < 1:
		return errcode.New(errcode.InvalidGeometry, op, be.Box+": start_led below 1")
	case be.EndLED < be.StartLED:
		return errcode.New(errcode.InvalidGeometry, op, be.Box+": end_led before start_led")
	case be.EndLED-be.StartLED+1 < MaxOrders:
		return errcode.New(errcode.InvalidGeometry, op, be.Box+": box narrower than order limit")
	case be.EndLED > e.cfg.StripLength:
		return errcode.New(errcode.InvalidGeometry, op, be.Box+": end_led beyond strip")
	}
	return nil
}

// placeTx records what a placement touched so it can be undone.
type placeTx struct {
	e      *Engine
	slot   int
	order  Order
	lastNo uint16
	saved  map[string]*Box // pre-call copy; nil when the box was created
	names  []string        // touch order
}

func (e *Engine) beginPlace(slot int) *placeTx {
	return &placeTx{
		e:      e,
		slot:   slot,
		order:  e.orders[slot],
		lastNo: e.lastNo,
		saved:  make(map[string]*Box, 4),
	}
}

func (tx *placeTx) touch(name string) *Box {
	b := tx.e.boxes[name]
	if _, seen := tx.saved[name]; !seen {
		var cp *Box
		if b != nil {
			c := *b
			cp = &c
		}
		tx.saved[name] = cp
		tx.names = append(tx.names, name)
	}
	return b
}

func (tx *placeTx) apply(op string, be types.BoxEntry) error {
	e := tx.e
	o := &e.orders[tx.slot]
	b := tx.touch(be.Box)

	if b == nil {
		if len(e.boxes) >= MaxBoxes {
			return errcode.New(errcode.CapacityExceeded, op, "box store full")
		}
		b = &Box{Name: be.Box, StartLED: be.StartLED, EndLED: be.EndLED}
		b.Slots[0] = Occupancy{OrderNo: o.No, TakeTimes: be.TakeTimes}
		e.boxes[be.Box] = b
		o.Residue++
		return nil
	}

	if i := b.slotOf(o.No); i >= 0 {
		b.Slots[i].TakeTimes = be.TakeTimes
	} else if i := b.freeSlot(); i >= 0 {
		b.Slots[i] = Occupancy{OrderNo: o.No, TakeTimes: be.TakeTimes}
		o.Residue++
	} else {
		// A box has one slot per order-table entry, so this needs a box
		// holding stale order numbers.
		return errcode.New(errcode.SlotExhausted, op, be.Box+": all slots taken")
	}
	b.StartLED, b.EndLED = be.StartLED, be.EndLED
	return nil
}

func (tx *placeTx) rollback() {
	e := tx.e
	for _, name := range tx.names {
		if prev := tx.saved[name]; prev == nil {
			delete(e.boxes, name)
		} else {
			*e.boxes[name] = *prev
		}
	}
	e.orders[tx.slot] = tx.order
	e.lastNo = tx.lastNo
}

func (tx *placeTx) commit() {
	e := tx.e
	for _, name := range tx.names {
		if prev := tx.saved[name]; prev != nil {
			e.addStaleLocked(prev.span())
		}
		e.markDirtyLocked(name, e.boxes[name])
	}
}

// Place registers an order across the listed boxes. Either every entry is
// applied or the store is left exactly as it was.
func (e *Engine) Place(req types.PlaceOrder) error {
	const op = "place"
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitDebugLocked()

	if err := checkName(op, "order", req.Order); err != nil {
		return err
	}
	if len(req.Boxes) == 0 {
		return errcode.New(errcode.InvalidPayload, op, "box_list is empty")
	}
	for _, be := range req.Boxes {
		if err := checkName(op, "box", be.Box); err != nil {
			return err
		}
		if be.TakeTimes < 0 {
			return errcode.New(errcode.InvalidPayload, op, be.Box+": negative take times")
		}
	}

	slot := e.findOrder(req.Order)
	existed := slot >= 0
	if existed && !e.cfg.AllowOverwrite {
		return errcode.New(errcode.Conflict, op, "order already active: "+req.Order)
	}
	if !existed {
		if slot = e.freeOrderSlot(); slot < 0 {
			return errcode.New(errcode.CapacityExceeded, op, "order table full")
		}
	}
	for _, be := range req.Boxes {
		if err := e.checkGeometry(op, be); err != nil {
			return err
		}
	}

	tx := e.beginPlace(slot)
	if existed {
		e.orders[slot].TimeStamp = req.TimeStamp
		e.orders[slot].Color = req.Color
	} else {
		e.orders[slot] = Order{
			Name:      req.Order,
			No:        e.nextNoLocked(),
			TimeStamp: req.TimeStamp,
			Color:     req.Color,
		}
	}
	for _, be := range req.Boxes {
		if err := tx.apply(op, be); err != nil {
			tx.rollback()
			e.log.Warn("indication:place_rejected", slog.String("order", req.Order), slog.String("err", err.Error()))
			return err
		}
	}
	tx.commit()
	e.syncAlarmLocked()
	e.Signal()

	e.log.Info("indication:order_placed",
		slog.String("order", req.Order),
		slog.Int("boxes", len(req.Boxes)),
		slog.Int("residue", e.orders[slot].Residue))
	return nil
}

// Pickup deducts take times from one occupancy. When the count is used up
// the occupancy's LEDs go dark immediately and the order's residue drops.
func (e *Engine) Pickup(req types.PickupCompleted) error {
	const op = "pickup"
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitDebugLocked()

	if err := checkName(op, "order", req.Order); err != nil {
		return err
	}
	if err := checkName(op, "box", req.Box); err != nil {
		return err
	}
	if req.Times < 0 {
		return errcode.New(errcode.InvalidPayload, op, "negative times")
	}

	slot := e.findOrder(req.Order)
	if slot < 0 {
		return errcode.New(errcode.NotFound, op, "order not active: "+req.Order)
	}
	o := &e.orders[slot]
	b := e.boxes[req.Box]
	if b == nil {
		return errcode.New(errcode.NotFound, op, "box not stored: "+req.Box)
	}
	i := b.slotOf(o.No)
	if i < 0 {
		return errcode.New(errcode.NotFound, op, req.Box+" does not hold "+req.Order)
	}

	occ := &b.Slots[i]
	if occ.TakeTimes > req.Times {
		occ.TakeTimes -= req.Times
		return nil
	}

	e.ledMu.Lock()
	err := e.fillLocked(Span{occ.OwnerStart, occ.OwnerEnd}, 0, 0, 0)
	if rerr := e.led.Refresh(); err == nil {
		err = rerr
	}
	e.ledMu.Unlock()
	if err != nil {
		e.log.Warn("indication:extinguish_failed", slog.String("box", req.Box), slog.String("err", err.Error()))
	}

	*occ = Occupancy{}
	if b.empty() {
		e.dropBoxLocked(req.Box)
	}
	o.Residue--
	if o.Residue <= 0 {
		e.log.Info("indication:order_completed", slog.String("order", o.Name))
		*o = Order{}
	}
	e.syncAlarmLocked()
	return nil
}

// End drops an order from every box it holds and destroys it.
func (e *Engine) End(req types.EndPickup) error {
	const op = "end"
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitDebugLocked()

	if err := checkName(op, "order", req.Order); err != nil {
		return err
	}

	slot := e.findOrder(req.Order)
	if slot < 0 {
		return errcode.New(errcode.NotFound, op, "order not active: "+req.Order)
	}
	no := e.orders[slot].No

	e.ledMu.Lock()
	var err error
	for name, b := range e.boxes {
		i := b.slotOf(no)
		if i < 0 {
			continue
		}
		occ := &b.Slots[i]
		if ferr := e.fillLocked(Span{occ.OwnerStart, occ.OwnerEnd}, 0, 0, 0); err == nil {
			err = ferr
		}
		*occ = Occupancy{}
		if b.empty() {
			e.dropBoxLocked(name)
		}
	}
	if rerr := e.led.Refresh(); err == nil {
		err = rerr
	}
	e.ledMu.Unlock()
	if err != nil {
		e.log.Warn("indication:extinguish_failed", slog.String("order", req.Order), slog.String("err", err.Error()))
	}

	e.orders[slot] = Order{}
	e.syncAlarmLocked()
	e.log.Info("indication:order_ended", slog.String("order", req.Order))
	return nil
}

// Residues lists the active orders in table order.
func (e *Engine) Residues() []types.ResidueOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ResidueOrder, 0, MaxOrders)
	for _, o := range e.orders {
		if o.No != 0 && o.Residue > 0 {
			out = append(out, types.ResidueOrder{
				Order:     o.Name,
				Residue:   o.Residue,
				TimeStamp: o.TimeStamp,
				Color:     o.Color,
			})
		}
	}
	return out
}

// KillAll discards every order and box. LEDs are left to the caller.
func (e *Engine) KillAll() {
	e.mu.Lock()
	e.killAllLocked()
	e.mu.Unlock()
}
