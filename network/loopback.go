package network

import "sync"

// Loopback is an in-process Network test double: Send delivers directly to
// any local Subscribe channels for the message's type, regardless of the
// addressed peer, so single-process tests and the facade's local-witness
// path can exercise the wire-message shapes without a transport.
type Loopback struct {
	mu   sync.Mutex
	subs map[string][]chan Envelope
}

// NewLoopback returns an empty Loopback.
func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string][]chan Envelope)}
}

// Send fans msg out to every subscriber registered for msg.Type. Delivery
// is best-effort: a full subscriber channel drops the message rather than
// blocking the sender.
func (l *Loopback) Send(_ PeerID, msg Envelope) error {
	l.mu.Lock()
	subs := append([]chan Envelope(nil), l.subs[msg.Type]...)
	l.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a new buffered channel receiving every future Send for
// msgType.
func (l *Loopback) Subscribe(msgType string) <-chan Envelope {
	ch := make(chan Envelope, 64)
	l.mu.Lock()
	l.subs[msgType] = append(l.subs[msgType], ch)
	l.mu.Unlock()
	return ch
}
