// Package scheduler implements the Message Task Scheduler: outbound
// retry/amplification of requests to a fraction of a signer set, with
// cancellation scoped to pipeline rounds. It follows a token/timer shape
// generalized from per-peer rate limiting into a per-task scheduling
// loop; idiomatic Go substitutes a stored context.CancelFunc for a
// cancellation token.
package scheduler

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"kore/network"
)

// Sender delivers one message to one target; normally network.Network.Send,
// kept as its own type here so tests can inject a recorder without a full
// Network implementation.
type Sender func(target network.PeerID, msg network.Envelope) error

// Config is a task's retry policy: Timeout paces an Indefinite task's
// re-send period, and ReplicationFactor selects
// ⌈|targets|·ReplicationFactor⌉ (minimum 1) distinct targets per round.
type Config struct {
	Timeout           time.Duration
	ReplicationFactor float64
}

// targetCount resolves rf against the size of the candidate target set.
func targetCount(total int, rf float64) int {
	if total <= 0 {
		return 0
	}
	n := int(math.Ceil(float64(total) * rf))
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	return n
}

// selectTargets picks n distinct random targets from candidates, following
// the random-target gossip fan-out pattern.
func selectTargets(candidates []network.PeerID, n int) []network.PeerID {
	if n >= len(candidates) {
		out := append([]network.PeerID(nil), candidates...)
		return out
	}
	perm := rand.Perm(len(candidates))
	out := make([]network.PeerID, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candidates[perm[i]])
	}
	return out
}

// task is the scheduler's bookkeeping for one outstanding send loop.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs one-shot and indefinite outbound tasks, one goroutine per
// indefinite task, tracked by id for round-scoped cancellation.
type Scheduler struct {
	send Sender

	mu    sync.Mutex
	tasks map[string]*task
}

// New constructs a Scheduler that delivers through send.
func New(send Sender) *Scheduler {
	return &Scheduler{send: send, tasks: make(map[string]*task)}
}

// OneShot selects ⌈|targets|·cfg.ReplicationFactor⌉ (min 1) distinct random
// targets from targets and sends payload to each once. It does not
// register a cancellable task: a one-shot send has nothing left to cancel
// once this call returns.
func (s *Scheduler) OneShot(msgType string, payload []byte, targets []network.PeerID, cfg Config) {
	n := targetCount(len(targets), cfg.ReplicationFactor)
	for _, target := range selectTargets(targets, n) {
		_ = s.send(target, network.Envelope{Type: msgType, Payload: payload})
	}
}

// Indefinite starts a task, registered under id, that re-selects targets
// and resends payload every cfg.Timeout until Cancel(id) is called. Only
// one indefinite task may be registered under a given id at a time;
// starting a second with the same id replaces (cancelling) the first.
func (s *Scheduler) Indefinite(id string, msgType string, payload []byte, targetsFn func() []network.PeerID, cfg Config) {
	s.Cancel(id)

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(cfg.Timeout)
		defer ticker.Stop()
		for {
			targets := targetsFn()
			n := targetCount(len(targets), cfg.ReplicationFactor)
			for _, target := range selectTargets(targets, n) {
				_ = s.send(target, network.Envelope{Type: msgType, Payload: payload})
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Cancel removes the task registered under id and aborts its loop, if any.
// It blocks until the task's goroutine has observed cancellation, so a
// caller that immediately re-registers the same id never races with the
// old loop's final send.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// CancelAll cancels every task in ids, for example the task ids that
// pipeline.Manager.Supersede returns for a superseded round; ids with no
// registered task are skipped. The pipeline package does not call it.
func (s *Scheduler) CancelAll(ids []string) {
	for _, id := range ids {
		s.Cancel(id)
	}
}
