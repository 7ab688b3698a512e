package gridstate

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dewyer/freecaster-grid/internal/election"
)

// ErrUnknownTarget is returned by CreateSilence when the named target is
// neither self nor a known peer (spec §4.2 — "404-class").
var ErrUnknownTarget = errors.New("gridstate: unknown silence target")

// Store is the grid's one mutable shared object: the per-peer failure
// trackers and the silence set, behind a single mutex (spec §3 "Ownership",
// §5 "Both share one mutex guarding the {node_state, silences} aggregate").
// It is meant to be constructed once and handed, by reference, to both the
// poller and the HTTP handlers (spec §9 "prefer passing it in as a
// constructor argument ... rather than a module-level singleton").
type Store struct {
	me     string
	clock  clock
	roller Roller

	mu       sync.Mutex
	nodes    map[string]*NodeState
	silences map[uint64]*NodeSilence
}

// clock is the subset of quartz.Clock this package needs, so tests can
// inject a fake without importing quartz in production code paths that
// don't care.
type clock interface {
	Now() time.Time
}

// New builds a Store with one NodeState per peer, matching spec §3's "one
// per peer in the roster, excluding self" — entries exist from the start
// so last_poll is recorded even while a peer stays healthy.
func New(me string, peers []Node, clk clock, roller Roller) *Store {
	nodes := make(map[string]*NodeState, len(peers))
	for _, p := range peers {
		nodes[p.Name] = newNodeState(p.Name)
	}
	return &Store{
		me:       me,
		clock:    clk,
		roller:   roller,
		nodes:    nodes,
		silences: make(map[uint64]*NodeSilence),
	}
}

// --- Failure Tracker (C3, spec §4.1) ---------------------------------------

// RecordProbe applies one probe outcome. It returns true if this marks a
// recovery this node had taken responsibility for announcing (spec §4.1
// "emit a recovery-to-announce event"). Invariant 2 (full reset on success)
// and invariant 1 (roll set exactly at the 0->3 crossing) are maintained
// here and nowhere else.
func (s *Store) RecordProbe(name string, success bool, at time.Time) (recoveredAnnouncedByMe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.nodes[name]
	if !ok {
		return false
	}
	ns.LastPoll = at

	if !success {
		ns.LastFail = at
		if ns.FailCount < deadAfter {
			ns.FailCount++
			if ns.FailCount == deadAfter {
				roll := s.roller.Uint64()
				ns.LocalAnnouncementRoll = &roll
			}
		}
		return false
	}

	wasMineToAnnounce := ns.Status() == StatusDead && ns.Announced == s.me
	ns.reset()
	return wasMineToAnnounce
}

// DyingNames returns the peers currently in Dying status (fail_count >=
// deadAfter, not yet announced) — the set that needs an obituary exchange
// this cycle (spec §4.5 step 7).
func (s *Store) DyingNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for name, ns := range s.nodes {
		if ns.Status() == StatusDying {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ProcessObituaries merges one cycle's worth of obituary responses into
// every Dying entry's confirmations (spec §4.5 step 8). responses maps
// peer-name -> (dead-peer-name -> roll) for every peer that answered this
// cycle; a peer that could not be reached or parsed is simply absent from
// responses and does not vote (spec §7 "Obituary call failure ... that
// peer simply does not vote this cycle").
func (s *Store) ProcessObituaries(responses map[string]map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ns := range s.nodes {
		if ns.Status() != StatusDying {
			continue
		}
		for from, deadNodes := range responses {
			if roll, confirmed := deadNodes[name]; confirmed {
				r := roll
				ns.Confirmations[from] = Confirmation{ConfirmedRoll: &r}
			} else {
				ns.Confirmations[from] = Confirmation{ConfirmedRoll: nil}
			}
		}
	}
}

// RunElections runs the Announcement Elector (spec §4.4) over every Dying
// entry and returns the names whose winner is this node — the deaths this
// node must announce this cycle. Entries without quorum, or whose winner
// is some other peer, just get their Announced field updated (or left
// alone) and produce no event here.
func (s *Store) RunElections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []string
	for name, ns := range s.nodes {
		if ns.Status() != StatusDying {
			continue
		}
		if ns.LocalAnnouncementRoll == nil {
			// Invariant 1 guarantees this can't happen for a Dying entry;
			// guarded defensively since it's cheap.
			continue
		}
		winner, quorum := election.Elect(s.me, *ns.LocalAnnouncementRoll, confirmationRolls(ns.Confirmations))
		if !quorum {
			continue
		}
		ns.Announced = winner
		if winner == s.me {
			mine = append(mine, name)
		}
	}
	sort.Strings(mine)
	return mine
}

func confirmationRolls(confirmations map[string]Confirmation) map[string]*uint64 {
	out := make(map[string]*uint64, len(confirmations))
	for peer, c := range confirmations {
		out[peer] = c.ConfirmedRoll
	}
	return out
}

// NodeSnapshot is a read-only view of one peer's state, used by the HTTP
// surface and tests.
type NodeSnapshot struct {
	Name      string
	Status    Status
	FailCount int
	Roll      *uint64
	Announced string
}

// Snapshot returns every peer's state sorted by name (spec §4.7 "/grid"
// — "sorted by name").
func (s *Store) Snapshot() []NodeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]NodeSnapshot, 0, len(s.nodes))
	for name, ns := range s.nodes {
		out = append(out, NodeSnapshot{
			Name:      name,
			Status:    ns.Status(),
			FailCount: ns.FailCount,
			Roll:      ns.LocalAnnouncementRoll,
			Announced: ns.Announced,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ObituaryEntries lists every peer this node currently considers Dying or
// Dead, with its roll (spec §4.7 "/obituary" — fallback to the maximum
// uint64 if, defensively, no roll was recorded).
func (s *Store) ObituaryEntries() []NodeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []NodeSnapshot
	for name, ns := range s.nodes {
		st := ns.Status()
		if st != StatusDying && st != StatusDead {
			continue
		}
		roll := ns.LocalAnnouncementRoll
		if roll == nil {
			max := ^uint64(0)
			roll = &max
		}
		out = append(out, NodeSnapshot{Name: name, Status: st, Roll: roll})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KnownName reports whether name is self or a tracked peer, used to
// validate silence targets (spec §4.2 "create").
func (s *Store) KnownName(name string) bool {
	if name == s.me {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[name]
	return ok
}
