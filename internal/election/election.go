// Package election implements the Announcement Elector (spec §4.4): a pure,
// side-effect-free computation over one peer's confirmations that decides
// whether quorum is reached and who announces.
//
// Kept deliberately free of gridstate so it can be property-tested in
// isolation (spec §9 "Election as pure function ... This enables direct
// property testing").
package election

import "sort"

// Elect runs the procedure in spec §4.4 for one Dying peer.
//
// confirmations maps peer-name -> confirmed roll (nil if that peer was
// asked and did not list the subject as dead). me/myRoll are this node's
// own name and the roll it drew when the peer crossed the death threshold;
// me is always a "true" voter (spec §4.4 step 1, §9 "the node that raised
// the alarm is a voter").
//
// It returns the winning peer's name and whether quorum was reached. When
// quorum is false, winner is "" and must be ignored.
func Elect(me string, myRoll uint64, confirmations map[string]*uint64) (winner string, quorum bool) {
	type candidate struct {
		name string
		roll uint64
	}

	trueVotes := 1 // me
	falseVotes := 0
	candidates := []candidate{{name: me, roll: myRoll}}

	for peer, roll := range confirmations {
		if roll != nil {
			trueVotes++
			candidates = append(candidates, candidate{name: peer, roll: *roll})
		} else {
			falseVotes++
		}
	}

	// Strict majority; ties go to "not yet confirmed" (spec §4.4 step 3).
	if trueVotes <= falseVotes {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].roll != candidates[j].roll {
			return candidates[i].roll < candidates[j].roll
		}
		return candidates[i].name < candidates[j].name
	})

	last := candidates[len(candidates)-1]
	return last.name, true
}
