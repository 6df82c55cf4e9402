package provider

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
	"sync"
)

// Emitter is a listener registry. Handlers of one event run in subscription
// order; each subscription has its own id, so removing one never touches
// another handler registered for the same event.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventName]*linkedhashmap.Map
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventName]*linkedhashmap.Map)}
}

type subscription struct {
	emitter *Emitter
	name    EventName
	id      string
	once    sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.emitter.remove(s.name, s.id)
	})
}

// Subscribe registers h for name.
func (e *Emitter) Subscribe(name EventName, h Handler) Subscription {
	sub := &subscription{emitter: e, name: name, id: uuid.NewString()}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.handlers[name]
	if !ok {
		m = linkedhashmap.New()
		e.handlers[name] = m
	}
	m.Put(sub.id, h)
	return sub
}

func (e *Emitter) remove(name EventName, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.handlers[name]
	if !ok {
		return
	}
	m.Remove(id)
	if m.Empty() {
		delete(e.handlers, name)
	}
}

// Count returns how many handlers are registered for name.
func (e *Emitter) Count(name EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.handlers[name]; ok {
		return m.Size()
	}
	return 0
}

// Emit calls every handler registered for ev.Name and returns how many ran.
// Handlers run outside the registry lock, so they may subscribe or
// unsubscribe.
func (e *Emitter) Emit(ev Event) int {
	e.mu.RLock()
	var values []interface{}
	if m, ok := e.handlers[ev.Name]; ok {
		values = m.Values()
	}
	e.mu.RUnlock()
	for _, v := range values {
		v.(Handler)(ev)
	}
	return len(values)
}
