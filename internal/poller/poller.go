// Package poller implements the Poller Loop (C6, spec §4.5): the single
// periodic driver that reaps silences, gossips them, probes peers, updates
// the failure tracker, runs the obituary exchange and election, and
// publishes announcements. It is grounded on silence/silence.go's
// Maintenance loop (quartz.Clock-driven ticker, select over a stop channel)
// generalized from "garbage-collect one map" to the full eleven-step cycle.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/dewyer/freecaster-grid/internal/announce"
	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/wire"
)

// peerClient is the subset of peerclient.Client the poller needs, narrowed
// so tests can supply a fake instead of making real HTTP calls.
type peerClient interface {
	Probe(ctx context.Context, node gridstate.Node) (up bool, resp *wire.StatusResponse, err error)
	Obituary(ctx context.Context, node gridstate.Node, secret string) (*wire.ObituaryResponse, error)
	BroadcastSilence(ctx context.Context, node gridstate.Node, secret string, rec wire.SilenceBroadcast) (accepted bool, err error)
	ProbeGate(ctx context.Context, url string) bool
}

// Poller drives one grid node's failure-detection cycle.
type Poller struct {
	store     *gridstate.Store
	client    peerClient
	announcer announce.Announcer
	peers     []gridstate.Node
	self      string
	secret    string
	gateURL   string
	clock     quartz.Clock
	logger    *slog.Logger
	metrics   *Metrics
}

// Config holds everything needed to construct a Poller.
type Config struct {
	Store           *gridstate.Store
	Client          peerClient
	Announcer       announce.Announcer
	Peers           []gridstate.Node
	Self            string
	Secret          string
	InternetGateURL string
	Clock           quartz.Clock
	Logger          *slog.Logger
	Metrics         *Metrics
}

// New builds a Poller from cfg, filling in defaults for an unset clock,
// logger or metrics registry.
func New(cfg Config) *Poller {
	clk := cfg.Clock
	if clk == nil {
		clk = quartz.NewReal()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Poller{
		store:     cfg.Store,
		client:    cfg.Client,
		announcer: cfg.Announcer,
		peers:     cfg.Peers,
		self:      cfg.Self,
		secret:    cfg.Secret,
		gateURL:   cfg.InternetGateURL,
		clock:     clk,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run drives the poll loop at period until ctx is cancelled, matching
// silence/silence.go's Maintenance: a quartz ticker selected alongside the
// stop signal (here ctx.Done() rather than a stop channel).
func (p *Poller) Run(ctx context.Context, period time.Duration) {
	t := p.clock.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle executes exactly one pass of the eleven-step cycle (spec §4.5).
// It is exported so tests (and a first eager cycle at startup) can drive
// the poller without waiting on the ticker.
func (p *Poller) RunCycle(ctx context.Context) {
	now := p.clock.Now().UTC()

	// 1. Internet gate.
	if !p.client.ProbeGate(ctx, p.gateURL) {
		p.logger.Warn("internet gate failed, skipping cycle")
		p.metrics.incCyclesSkipped()
		return
	}

	// 2. Silence maintenance.
	reaped := p.store.ReapSilences(now)
	p.metrics.addSilencesReaped(reaped)
	pending := p.store.PendingBroadcasts()

	// 3. Silence gossip.
	for _, sil := range pending {
		if p.gossipSilence(ctx, sil) {
			p.store.MarkBroadcasted(sil.ID)
			p.metrics.incSilencesGossiped()
		}
	}

	// 4. Probe each non-silenced peer.
	type probeResult struct {
		name    string
		success bool
	}
	var results []probeResult
	for _, peer := range p.peers {
		if p.store.IsSilenced(peer.Name, now) {
			continue
		}
		up, _, err := p.client.Probe(ctx, peer)
		success := err == nil && up
		p.metrics.incProbe(success)
		results = append(results, probeResult{name: peer.Name, success: success})
	}

	// 5. Update tracker (batch), collecting recoveries this node must announce.
	var recovered []string
	for _, r := range results {
		if p.store.RecordProbe(r.name, r.success, now) {
			recovered = append(recovered, r.name)
		}
	}

	// 6. Recovery announcements.
	for _, name := range recovered {
		p.publish(ctx, announce.Recovery, name)
	}

	// 7. Obituary exchange.
	dying := p.store.DyingNames()
	if len(dying) > 0 {
		dyingSet := make(map[string]bool, len(dying))
		for _, d := range dying {
			dyingSet[d] = true
		}
		responses := make(map[string]map[string]uint64)
		for _, peer := range p.peers {
			if dyingSet[peer.Name] {
				continue
			}
			resp, err := p.client.Obituary(ctx, peer, p.secret)
			if err != nil {
				p.logger.Debug("obituary call failed", "peer", peer.Name, "err", err)
				continue
			}
			deadNodes := make(map[string]uint64, len(resp.DeadNodes))
			for _, e := range resp.DeadNodes {
				deadNodes[e.Name] = e.Roll
			}
			responses[peer.Name] = deadNodes
		}

		// 8. Process confirmations.
		p.store.ProcessObituaries(responses)

		// 9. Run the Elector.
		winners := p.store.RunElections()

		// 10. Publish death announcements.
		for _, name := range winners {
			p.publish(ctx, announce.Death, name)
		}
	}

	p.metrics.incCyclesRun()
}

// gossipSilence POSTs one silence to peers in roster order until one
// accepts (spec §4.5 step 3).
func (p *Poller) gossipSilence(ctx context.Context, sil gridstate.NodeSilence) bool {
	rec := wire.SilenceBroadcast{ID: sil.ID, NodeName: sil.NodeName, SilentUntil: sil.SilentUntil}
	for _, peer := range p.peers {
		accepted, err := p.client.BroadcastSilence(ctx, peer, p.secret, rec)
		if err != nil {
			p.logger.Debug("silence broadcast failed", "peer", peer.Name, "silence", sil.ID, "err", err)
			continue
		}
		if accepted {
			return true
		}
	}
	return false
}

func (p *Poller) publish(ctx context.Context, kind announce.Kind, target string) {
	ev := announce.Event{Kind: kind, Target: target, Me: p.self, Handle: p.handleFor(target)}
	if err := p.announcer.Announce(ctx, ev); err != nil {
		p.logger.Error("announce failed", "target", target, "kind", kind, "err", err)
		return
	}
	if kind == announce.Death {
		p.metrics.incDeaths()
	} else {
		p.metrics.incRecoveries()
	}
}

func (p *Poller) handleFor(target string) string {
	for _, peer := range p.peers {
		if peer.Name == target {
			return peer.TelegramHandle
		}
	}
	return ""
}
