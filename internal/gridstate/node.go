// Package gridstate holds the grid's one piece of mutable shared state: the
// per-peer failure tracker and the silence set, guarded by a single mutex
// (spec §3, §5 — "NodeState and NodeSilence collections live in one
// process-wide structure guarded by a single mutex").
//
// Grounded on silence/silence.go's Silences type (lock-guarded map plus an
// injectable quartz.Clock) and reworked to the much smaller, non-persisted
// shape this protocol needs.
package gridstate

import "time"

// deadAfter is the number of consecutive failed probe cycles after which a
// peer is considered Dying (spec §3, §4.1).
const deadAfter = 3

// Node is one entry of the static roster (spec §3 "Node identity").
type Node struct {
	Name           string
	Address        string
	TelegramHandle string
}

// Status is the derived liveness state of a peer from this node's
// viewpoint (spec §3).
type Status int

const (
	// StatusAlive means fail_count < deadAfter.
	StatusAlive Status = iota
	// StatusDying means fail_count >= deadAfter and no one has announced yet.
	StatusDying
	// StatusDead means fail_count >= deadAfter and Announced names a winner.
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusDying:
		return "dying"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Confirmation is one peer's answer to "is this name in your obituary".
// A nil ConfirmedRoll means the peer was asked and did not list the
// subject as dead (spec §3 invariant: "none means ... did NOT list us").
type Confirmation struct {
	ConfirmedRoll *uint64
}

// NodeState is this node's view of one peer (never of itself).
type NodeState struct {
	Name                  string
	LastPoll              time.Time
	LastFail              time.Time
	FailCount             int
	Confirmations         map[string]Confirmation
	LocalAnnouncementRoll *uint64
	// Announced names the node that took responsibility for announcing
	// this peer's death, or "" if none has yet.
	Announced string
}

func newNodeState(name string) *NodeState {
	return &NodeState{
		Name:          name,
		Confirmations: make(map[string]Confirmation),
	}
}

// Status derives Alive/Dying/Dead per spec §3.
func (ns *NodeState) Status() Status {
	switch {
	case ns.FailCount < deadAfter:
		return StatusAlive
	case ns.Announced == "":
		return StatusDying
	default:
		return StatusDead
	}
}

// reset implements invariant 2: a successful probe clears fail_count,
// confirmations, the announcement roll, the announcer and last_fail.
func (ns *NodeState) reset() {
	ns.FailCount = 0
	ns.Confirmations = make(map[string]Confirmation)
	ns.LocalAnnouncementRoll = nil
	ns.Announced = ""
	ns.LastFail = time.Time{}
}
