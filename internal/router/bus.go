package router

import (
	"log"
	"sync"

	"fest_router/native/internal/domain"
)

const busBuffer = 256

// bus fans status events out to subscribers. publish never blocks, so it is
// safe to call with the Router mutex held.
type bus struct {
	mu   sync.Mutex
	subs map[int]func(domain.StatusEvent)
	next int
	ch   chan domain.StatusEvent
}

func newBus() *bus {
	return &bus{
		subs: make(map[int]func(domain.StatusEvent)),
		ch:   make(chan domain.StatusEvent, busBuffer),
	}
}

func (b *bus) subscribe(fn func(domain.StatusEvent)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(ev domain.StatusEvent) {
	select {
	case b.ch <- ev:
	default:
		log.Printf("[router] status queue full, dropping event for %s", ev.SessionID)
	}
}

func (b *bus) run(done <-chan struct{}) {
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		case <-done:
			// flush what is already queued
			for {
				select {
				case ev := <-b.ch:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *bus) deliver(ev domain.StatusEvent) {
	b.mu.Lock()
	fns := make([]func(domain.StatusEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
