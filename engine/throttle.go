package engine

import (
	"sync"
	"time"
)

// senderSlot holds the last reserved send time for one sender. Each sender
// has its own lock so reservations for different senders never contend.
type senderSlot struct {
	mu       sync.Mutex
	lastSend time.Time
}

// ThrottleGate enforces the minimum-gap rule between consecutive sends from
// the same sender. A reservation is a single check-and-reserve under the
// sender's lock: two enrollments racing for the same sender cannot both
// observe a stale last-send time and converge on the same slot.
type ThrottleGate struct {
	mu    sync.RWMutex
	slots map[uint]*senderSlot
}

func NewThrottleGate() *ThrottleGate {
	return &ThrottleGate{
		slots: make(map[uint]*senderSlot),
	}
}

func (g *ThrottleGate) slot(senderID uint) *senderSlot {
	g.mu.RLock()
	s, ok := g.slots[senderID]
	g.mu.RUnlock()
	if ok {
		return s
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok = g.slots[senderID]; !ok {
		s = &senderSlot{}
		g.slots[senderID] = s
	}
	return s
}

// ReserveSendSlot grants a send time for the sender that honors the minimum
// gap. When the candidate is closer to the previous reservation than the gap
// allows it is pushed forward to lastSend+gap; the applied delay is returned
// alongside the granted time (zero when the candidate was accepted as-is).
// The granted time becomes the sender's new last-send mark.
func (g *ThrottleGate) ReserveSendSlot(senderID uint, candidate time.Time, gap time.Duration) (time.Time, time.Duration) {
	s := g.slot(senderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	granted := candidate
	var delay time.Duration
	if !s.lastSend.IsZero() {
		earliest := s.lastSend.Add(gap)
		if candidate.Before(earliest) {
			granted = earliest
			delay = earliest.Sub(candidate)
		}
	}

	s.lastSend = granted
	return granted, delay
}

// Observe seeds the gate with a send that already happened, typically from
// persisted sender history at startup. Older timestamps never move the mark
// backwards.
func (g *ThrottleGate) Observe(senderID uint, sentAt time.Time) {
	s := g.slot(senderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sentAt.After(s.lastSend) {
		s.lastSend = sentAt
	}
}

// LastSend returns the current last-send mark for a sender, zero when none
func (g *ThrottleGate) LastSend(senderID uint) time.Time {
	s := g.slot(senderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSend
}
