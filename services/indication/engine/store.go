package engine

import (
	"sort"

	"picklight-go/x/mathx"
)

// Order is an active pick task. No == 0 marks a free table slot.
type Order struct {
	Name      string
	No        uint16
	TimeStamp uint64
	Color     uint32 // 0xRRGGBB
	Residue   int    // boxes still held
}

// Occupancy is one order's hold on a box. OrderNo == 0 marks a free slot.
// OwnerStart/OwnerEnd are the 1-based LEDs assigned at the last render.
type Occupancy struct {
	OrderNo    uint16
	TakeTimes  int
	OwnerStart int
	OwnerEnd   int
}

// Box is a storage location spanning StartLED..EndLED (1-based, inclusive).
type Box struct {
	Name     string
	StartLED int
	EndLED   int
	Slots    [MaxOrders]Occupancy
	Dirty    bool
}

func (b *Box) slotOf(no uint16) int {
	for i := range b.Slots {
		if b.Slots[i].OrderNo == no {
			return i
		}
	}
	return -1
}

func (b *Box) freeSlot() int { return b.slotOf(0) }

func (b *Box) empty() bool { return b.freeSlots() == MaxOrders }

func (b *Box) freeSlots() int {
	n := 0
	for i := range b.Slots {
		if b.Slots[i].OrderNo == 0 {
			n++
		}
	}
	return n
}

func (b *Box) span() span { return span{b.StartLED, b.EndLED} }

func (b *Box) overlapsAny(spans []span) bool {
	for _, sp := range spans {
		if mathx.Overlaps(sp.Start, sp.End, b.StartLED, b.EndLED) {
			return true
		}
	}
	return false
}

// span is an inclusive 1-based LED range.
type span = Span

// Geometry maps a box name to its [start_led, end_led] as configured.
type Geometry map[string][2]int

// Lookup reports the configured range of a box.
func (g Geometry) Lookup(name string) (start, end int, ok bool) {
	r, ok := g[name]
	return r[0], r[1], ok
}

// ---- order table ----

func (e *Engine) findOrder(name string) int {
	for i := range e.orders {
		if e.orders[i].No != 0 && e.orders[i].Name == name {
			return i
		}
	}
	return -1
}

func (e *Engine) orderByNo(no uint16) *Order {
	for i := range e.orders {
		if e.orders[i].No == no {
			return &e.orders[i]
		}
	}
	return nil
}

func (e *Engine) freeOrderSlot() int {
	for i := range e.orders {
		if e.orders[i].No == 0 {
			return i
		}
	}
	return -1
}

// nextNoLocked hands out order numbers 1..0xFFFF, wrapping and skipping
// numbers still held by an active order.
func (e *Engine) nextNoLocked() uint16 {
	for {
		e.lastNo++
		if e.lastNo == 0 {
			e.lastNo = 1
		}
		if e.orderByNo(e.lastNo) == nil {
			return e.lastNo
		}
	}
}

// ---- box map ----

func (e *Engine) markDirtyLocked(name string, b *Box) {
	if b.Dirty {
		return
	}
	b.Dirty = true
	e.dirty = append(e.dirty, name)
}

func (e *Engine) addStaleLocked(sp span) {
	if sp.End < sp.Start {
		return
	}
	if len(e.stale) >= MaxBoxes {
		// Collapse into one whole-strip range.
		e.stale = append(e.stale[:0], span{1, e.cfg.StripLength})
		return
	}
	e.stale = append(e.stale, sp)
}

// dropBoxLocked removes a box that no longer holds any order.
func (e *Engine) dropBoxLocked(name string) {
	b := e.boxes[name]
	if b == nil {
		return
	}
	delete(e.boxes, name)
	if !b.Dirty {
		return
	}
	for i, n := range e.dirty {
		if n == name {
			e.dirty = append(e.dirty[:i], e.dirty[i+1:]...)
			break
		}
	}
}

func (e *Engine) killAllLocked() {
	e.orders = [MaxOrders]Order{}
	e.boxes = make(map[string]*Box)
	e.dirty = e.dirty[:0]
	e.stale = e.stale[:0]
	e.syncAlarmLocked()
}

// ---- read side ----

// Snapshot is a copy of the store for inspection.
type Snapshot struct {
	Orders []Order        // active orders in table order
	Boxes  map[string]Box // by name
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{Boxes: make(map[string]Box, len(e.boxes))}
	for _, o := range e.orders {
		if o.No != 0 {
			s.Orders = append(s.Orders, o)
		}
	}
	for name, b := range e.boxes {
		s.Boxes[name] = *b
	}
	return s
}

// BoxNames returns the stored box names, sorted.
func (s Snapshot) BoxNames() []string {
	out := make([]string, 0, len(s.Boxes))
	for n := range s.Boxes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Order returns the active order called name.
func (e *Engine) Order(name string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.findOrder(name); i >= 0 {
		return e.orders[i], true
	}
	return Order{}, false
}

// Box returns the stored box called name.
func (e *Engine) Box(name string) (Box, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.boxes[name]; b != nil {
		return *b, true
	}
	return Box{}, false
}
