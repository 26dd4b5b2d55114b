// bus.go
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a sequence of comparable tokens (strings or integers).
// "+" matches exactly one level and "#" matches the remaining levels,
// including none, when used as the final token of a subscription.
type Topic []any

const (
	wildOne  = "+"
	wildRest = "#"
)

// T builds a Topic, panicking on tokens that cannot be used as map keys.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		if !validToken(tok) {
			panic("bus: invalid topic token")
		}
	}
	return Topic(tokens)
}

func validToken(tok any) bool {
	switch tok.(type) {
	case string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, bool:
		return true
	}
	return false
}

func (t Topic) Len() int     { return len(t) }
func (t Topic) At(i int) any { return t[i] }
func (t Topic) Append(tok ...any) Topic {
	out := make(Topic, 0, len(t)+len(tok))
	out = append(out, t...)
	return append(out, tok...)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// deliver never blocks: a full queue drops its oldest message.
func (s *Subscription) deliver(m *Message) {
	select {
	case s.ch <- m:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- m:
	default:
	}
}

// -----------------------------------------------------------------------------
// Trie
// -----------------------------------------------------------------------------

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok any, create bool) *node {
	if c, ok := n.children[tok]; ok || !create {
		return c
	}
	if n.children == nil {
		n.children = make(map[any]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

func (n *node) empty() bool {
	return len(n.children) == 0 && len(n.subs) == 0 && n.retained == nil
}

// collectSubs walks the subscription trie along a concrete topic.
func (n *node) collectSubs(topic Topic, out []*Subscription) []*Subscription {
	if c := n.children[wildRest]; c != nil {
		out = append(out, c.subs...)
	}
	if len(topic) == 0 {
		return append(out, n.subs...)
	}
	if c := n.children[topic[0]]; c != nil {
		out = c.collectSubs(topic[1:], out)
	}
	if topic[0] != wildOne {
		if c := n.children[wildOne]; c != nil {
			out = c.collectSubs(topic[1:], out)
		}
	}
	return out
}

// collectRetained walks the retained trie along a (possibly wildcarded) filter.
func (n *node) collectRetained(filter Topic, out []*Message) []*Message {
	if len(filter) == 0 {
		if n.retained != nil {
			out = append(out, n.retained)
		}
		return out
	}
	switch filter[0] {
	case wildRest:
		return n.allRetained(out)
	case wildOne:
		for _, c := range n.children {
			out = c.collectRetained(filter[1:], out)
		}
		return out
	}
	if c := n.children[filter[0]]; c != nil {
		out = c.collectRetained(filter[1:], out)
	}
	return out
}

func (n *node) allRetained(out []*Message) []*Message {
	if n.retained != nil {
		out = append(out, n.retained)
	}
	for _, c := range n.children {
		out = c.allRetained(out)
	}
	return out
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu       sync.Mutex
	subs     *node
	retained *node
	qLen     int
	nextID   atomic.Uint32
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{subs: &node{}, retained: &node{}, qLen: queueLen}
}

func (b *Bus) NewConnection(name string) *Connection {
	return &Connection{bus: b, name: name}
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish stores retained messages (a nil payload clears) and fans out to
// every matching subscription.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		b.storeRetained(msg)
	}
	for _, s := range b.subs.collectSubs(msg.Topic, nil) {
		s.deliver(msg)
	}
}

func (b *Bus) storeRetained(msg *Message) {
	if msg.Payload != nil {
		n := b.retained
		for _, tok := range msg.Topic {
			n = n.child(tok, true)
		}
		n.retained = msg
		return
	}
	path := make([]*node, 0, len(msg.Topic)+1)
	n := b.retained
	path = append(path, n)
	for _, tok := range msg.Topic {
		if n = n.child(tok, false); n == nil {
			return
		}
		path = append(path, n)
	}
	n.retained = nil
	for i := len(path) - 1; i > 0; i-- {
		if !path[i].empty() {
			break
		}
		delete(path[i-1].children, msg.Topic[i-1])
	}
}

func (b *Bus) subscribe(c *Connection, topic Topic) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan *Message, b.qLen), conn: c}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, tok := range topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	for _, m := range b.retained.collectRetained(topic, nil) {
		sub.deliver(m)
	}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, tok := range sub.topic {
		if n = n.child(tok, false); n == nil {
			return
		}
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection is a named handle on the bus; subscriptions are owned by it.
type Connection struct {
	bus  *Bus
	name string

	mu   sync.Mutex
	subs []*Subscription
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(topic Topic) *Subscription {
	s := c.bus.subscribe(c, topic)
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.bus.unsubscribe(sub)
}

// Disconnect drops every subscription owned by the connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		c.bus.unsubscribe(s)
	}
}

// Reply answers a request on its ReplyTo topic; requests without one are ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if req == nil || len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}

// Request assigns a fresh reply topic, subscribes to it and publishes msg.
// The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	id := c.bus.nextID.Add(1)
	msg.ReplyTo = Topic{"_reply", c.name, int(id)}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait publishes msg and blocks for the first reply or ctx expiry.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)

	select {
	case m, ok := <-sub.Channel():
		if !ok {
			return nil, context.Canceled
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
