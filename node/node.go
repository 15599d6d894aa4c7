// Package node wires every component into one running process: identity,
// storage, governance, contracts, the ledger, the pipeline, approval,
// distribution, the scheduler, the network port, the public API facade,
// and observability. One constructor takes a Config, a storage.Database
// and a network.Network, and assembles the channel-connected components
// behind it.
package node

import (
	"context"
	"log/slog"

	"kore/api"
	"kore/approval"
	"kore/config"
	"kore/contract"
	"kore/contract/builtinrunner"
	"kore/contract/wasmrunner"
	"kore/distribution"
	"kore/governance"
	"kore/identity"
	"kore/ledger"
	"kore/network"
	"kore/observability/metrics"
	"kore/pipeline"
	"kore/scheduler"
	"kore/storage"
)

// Node owns every long-lived component for a single running process.
type Node struct {
	Config *config.Config
	Logger *slog.Logger
	Key    *identity.PrivateKey

	DB        storage.Database
	Net       network.Network
	Resolver  *governance.Resolver
	Contracts *contract.Cache
	Engine    contract.Engine
	Ledger    *ledger.Ledger
	Pipeline  *pipeline.Manager
	Approvals *approval.Manager
	Scheduler *scheduler.Scheduler
	Distributor *distribution.Distributor
	Metrics   *metrics.Metrics
	API       *api.Facade

	derivator identity.DigestDerivator
}

// metricsReporter adapts *metrics.Metrics to distribution.Reporter,
// recording unacknowledged witnesses as a gauge rather than only logging
// them.
type metricsReporter struct {
	m      *metrics.Metrics
	logger *slog.Logger
}

func (r metricsReporter) ReportUnacknowledgedWitness(subjectID identity.DigestId, sn uint64, witness identity.KeyId) {
	r.m.SetWitnessAckLag(subjectID.String(), witness.String(), sn)
	r.logger.Warn("witness did not acknowledge distribution round",
		slog.String("subject", subjectID.String()),
		slog.Uint64("sn", sn),
		slog.String("witness", witness.String()))
}

// New assembles a Node from cfg, an opened db, a net transport (a
// network.Loopback is sufficient for a single-process deployment or
// tests; a host wires in a real transport), and derivator, the digest
// algorithm every hashed value in this node uses.
func New(cfg *config.Config, db storage.Database, net network.Network, derivator identity.DigestDerivator, logger *slog.Logger) (*Node, error) {
	key, err := cfg.NodePrivateKey()
	if err != nil {
		return nil, err
	}

	led := ledger.New(db, derivator, cfg.GapBufferDepth, nil)
	resolver := governance.NewResolver(ledger.NewGovernanceSource(led))
	verifier := pipeline.NewGovernanceVerifier(resolver, derivator)
	led.SetVerifier(verifier)

	contracts := contract.NewCache()
	engine := contract.NewRouter(builtinrunner.NewRunner(), wasmrunner.NewRunner())

	pipelineMgr := pipeline.NewManager(resolver, contracts, engine, led, derivator, cfg.WitnessReplication)
	approvals := approval.New(db, approval.PolicyNormal, key, derivator)

	sched := scheduler.New(net.Send)
	m := metrics.Get()
	distributor := distribution.New(resolver, sched, net, led, distribution.Config{}, metricsReporter{m: m, logger: logger})

	facade := api.New(pipelineMgr, led, approvals)

	return &Node{
		Config: cfg, Logger: logger, Key: key,
		DB: db, Net: net, Resolver: resolver, Contracts: contracts, Engine: engine,
		Ledger: led, Pipeline: pipelineMgr, Approvals: approvals, Scheduler: sched,
		Distributor: distributor, Metrics: m, API: facade, derivator: derivator,
	}, nil
}

// Run starts every background loop (currently only the distributor's
// Ack/SignaturesNeeded consumer) and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	n.Logger.Info("node starting", slog.String("listen", n.Config.ListenAddress))
	n.Distributor.Run(ctx)
}

// Shutdown stops the API facade's submission loop. Callers should cancel
// the context passed to Run first so background loops exit before this
// returns.
func (n *Node) Shutdown() {
	n.API.Shutdown()
	n.Logger.Info("node stopped")
}
