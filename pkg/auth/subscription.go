package auth

import (
	"sync"
	"time"
)

// LinkEvent reports that an owner linked (or re-linked) an account.
type LinkEvent struct {
	OwnerID string
	At      time.Time
}

// Subscription delivers link events until Close is called.
type Subscription struct {
	C <-chan LinkEvent

	ch     chan LinkEvent
	linker *Linker
	once   sync.Once
}

// Subscribe registers a new subscription. Events are dropped for a
// subscriber whose buffer is full.
func (l *Linker) Subscribe() *Subscription {
	ch := make(chan LinkEvent, 16)
	sub := &Subscription{C: ch, ch: ch, linker: l}

	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.linker.mu.Lock()
		delete(s.linker.subs, s)
		s.linker.mu.Unlock()
		close(s.ch)
	})
}

func (l *Linker) publish(ev LinkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subs {
		select {
		case sub.ch <- ev:
		default:
			l.log.Warn("dropping link event for slow subscriber", "owner_id", ev.OwnerID)
		}
	}
}
