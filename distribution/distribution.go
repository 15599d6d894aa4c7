package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"kore/governance"
	"kore/identity"
	"kore/network"
	"kore/scheduler"
	"kore/subject"
)

// Config tunes the re-push cadence and the failure-reporting threshold.
type Config struct {
	// RetryInterval paces the periodic re-push to witnesses that have not
	// yet acknowledged.
	RetryInterval time.Duration
	// MaxRounds is N, the number of re-push rounds tolerated before a
	// still-unacknowledged witness is reported.
	MaxRounds int
}

// Reporter is notified when a witness fails to acknowledge within
// cfg.MaxRounds rounds. Implementations normally bump a metric and log;
// a failing witness is reported but never blocks distribution.
type Reporter interface {
	ReportUnacknowledgedWitness(subjectID identity.DigestId, sn uint64, witness identity.KeyId)
}

// EventSource is the ledger collaborator distribution reads committed
// events and their validation signatures from, to answer a peer's
// SignaturesNeeded request.
type EventSource interface {
	ServeRange(subjectID identity.DigestId, from, to uint64) ([]subject.Event, error)
}

// Distributor pushes finalized events plus their validation quorum to the
// witness set resolved from governance, re-pushes to stragglers on a
// timer, and serves SignaturesNeeded/ProvideSignatures requests from
// peers repairing their own gaps.
type Distributor struct {
	resolver *governance.Resolver
	sched    *scheduler.Scheduler
	net      network.Network
	events   EventSource
	cfg      Config
	reporter Reporter

	mu     sync.Mutex
	acked  map[string]map[string]uint64 // subjectID -> witness KeyId.String() -> highest acked sn
	rounds map[string]int               // taskID -> re-push rounds observed so far
}

// New constructs a Distributor. sched must be driven by net (its Sender
// closes over net.Send); net is kept separately so Distributor can also
// Subscribe to Ack and SignaturesNeeded envelopes.
func New(resolver *governance.Resolver, sched *scheduler.Scheduler, net network.Network, events EventSource, cfg Config, reporter Reporter) *Distributor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	return &Distributor{
		resolver: resolver,
		sched:    sched,
		net:      net,
		events:   events,
		cfg:      cfg,
		reporter: reporter,
		acked:    make(map[string]map[string]uint64),
		rounds:   make(map[string]int),
	}
}

func taskID(subjectID identity.DigestId, sn uint64) string {
	return fmt.Sprintf("distribution:%s:%d", subjectID.String(), sn)
}

// Push enumerates meta's witness set and schedules a SignaturesReceived
// push of event+proof to each, re-pushing on cfg.RetryInterval until every
// witness has acknowledged sn >= committed sn, or cfg.MaxRounds elapses
// for the stragglers.
func (d *Distributor) Push(meta governance.Metadata, subjectID identity.DigestId, sn uint64, event subject.Event, proof subject.ValidationProof) error {
	witnesses, err := d.resolver.Signers(meta, governance.StageWitness)
	if err != nil {
		return err
	}
	if len(witnesses) == 0 {
		return nil
	}

	payload, err := marshal(Push{SubjectID: subjectID, Event: event, Proof: proof})
	if err != nil {
		return err
	}

	id := taskID(subjectID, sn)
	d.mu.Lock()
	d.rounds[id] = 0
	d.mu.Unlock()

	d.sched.Indefinite(id, network.TypeDistributionSignaturesReceived, payload, func() []network.PeerID {
		return d.remainingTargets(id, witnesses, subjectID, sn)
	}, scheduler.Config{Timeout: d.cfg.RetryInterval, ReplicationFactor: 1.0})
	return nil
}

func (d *Distributor) remainingTargets(id string, witnesses []identity.KeyId, subjectID identity.DigestId, sn uint64) []network.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rounds[id]++
	round := d.rounds[id]
	acked := d.acked[subjectID.String()]

	var remaining []network.PeerID
	var stragglers []identity.KeyId
	for _, w := range witnesses {
		if acked != nil && acked[w.String()] >= sn {
			continue
		}
		stragglers = append(stragglers, w)
		remaining = append(remaining, network.PeerIDFromKey(w))
	}

	if len(remaining) == 0 {
		delete(d.rounds, id)
		go d.sched.Cancel(id)
		return nil
	}

	if round > d.cfg.MaxRounds {
		if d.reporter != nil {
			for _, w := range stragglers {
				d.reporter.ReportUnacknowledgedWitness(subjectID, sn, w)
			}
		}
		delete(d.rounds, id)
		go d.sched.Cancel(id)
		return nil
	}

	return remaining
}

// HandleAck records witness's acknowledgement of having reached sn >= ack.SN
// for ack.SubjectID, so future re-push rounds stop targeting it.
func (d *Distributor) HandleAck(ack Ack) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := ack.SubjectID.String()
	if d.acked[key] == nil {
		d.acked[key] = make(map[string]uint64)
	}
	w := ack.Witness.String()
	if ack.SN > d.acked[key][w] {
		d.acked[key][w] = ack.SN
	}
}

// HandleSignaturesNeeded answers a peer's request for the validation
// signatures of (req.SubjectID, req.SN) by replying with ProvideSignatures
// over d.net, addressed to replyTo.
func (d *Distributor) HandleSignaturesNeeded(replyTo network.PeerID, req SignaturesNeeded) error {
	events, err := d.events.ServeRange(req.SubjectID, req.SN, req.SN)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	payload, err := marshal(ProvideSignatures{
		SubjectID:  req.SubjectID,
		SN:         req.SN,
		Signatures: events[0].ValidationSignatures,
	})
	if err != nil {
		return err
	}
	return d.net.Send(replyTo, network.Envelope{Type: network.TypeDistributionProvideSignatures, Payload: payload})
}

// SendAck lets a witness node acknowledge having reached ack.SN for
// ack.SubjectID back to the distributing peer, over net directly (the
// witness side of Push has no Distributor of its own to route through).
func SendAck(net network.Network, to network.PeerID, ack Ack) error {
	payload, err := marshal(ack)
	if err != nil {
		return err
	}
	return net.Send(to, network.Envelope{Type: network.TypeDistributionAck, Payload: payload})
}

// Run consumes d.net's Ack and SignaturesNeeded subscriptions until ctx is
// cancelled, dispatching each to HandleAck/HandleSignaturesNeeded. It is
// meant to run in its own goroutine for the lifetime of the node.
func (d *Distributor) Run(ctx context.Context) {
	acks := d.net.Subscribe(network.TypeDistributionAck)
	needed := d.net.Subscribe(network.TypeDistributionSignaturesNeeded)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-acks:
			if !ok {
				return
			}
			var ack Ack
			if err := json.Unmarshal(env.Payload, &ack); err == nil {
				d.HandleAck(ack)
			}
		case env, ok := <-needed:
			if !ok {
				return
			}
			var req SignaturesNeeded
			if err := json.Unmarshal(env.Payload, &req); err == nil {
				_ = d.HandleSignaturesNeeded(env.From, req)
			}
		}
	}
}
