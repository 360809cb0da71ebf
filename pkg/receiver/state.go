package receiver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rescp17/lantransfer/pkg/protocol"
	"github.com/rescp17/lantransfer/pkg/transfer"
)

// State is an immutable snapshot of the receiver handed to observers.
// Every pointer in it refers to a private copy.
type State struct {
	Status         transfer.ServerStatus `json:"status"`
	Addr           string                `json:"addr,omitempty"`
	Client         *protocol.ClientInfo  `json:"client,omitempty"`
	Transfer       *transfer.Progress    `json:"transfer,omitempty"`
	LastCompletion *transfer.Completion  `json:"lastCompletion,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

func (s State) clone() State {
	out := s
	if s.Client != nil {
		c := *s.Client
		if s.Client.AppVersion != nil {
			v := *s.Client.AppVersion
			c.AppVersion = &v
		}
		out.Client = &c
	}
	if s.Transfer != nil {
		p := *s.Transfer
		out.Transfer = &p
	}
	if s.LastCompletion != nil {
		c := *s.LastCompletion
		out.LastCompletion = &c
	}
	return out
}

// Publisher holds the latest State and fans it out to subscribers.
// Only the event loop writes; any goroutine may read or subscribe.
type Publisher struct {
	mu        sync.RWMutex
	state     State
	listeners map[uint64]func(State)
	nextID    uint64
}

func NewPublisher(initial State) *Publisher {
	return &Publisher{
		state:     initial.clone(),
		listeners: make(map[uint64]func(State)),
	}
}

// Snapshot returns a copy of the current state.
func (p *Publisher) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

// Subscribe registers fn and returns a function removing it again.
// Callbacks run on the receiver's event loop and must not block.
func (p *Publisher) Subscribe(fn func(State)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Publish replaces the cached snapshot and notifies every subscriber.
func (p *Publisher) Publish(next State) {
	p.mu.Lock()
	p.state = next.clone()
	listeners := make([]func(State), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		p.notify(l, next.clone())
	}
}

func (p *Publisher) notify(l func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("State subscriber panicked", "panic", r)
		}
	}()
	l(s)
}
