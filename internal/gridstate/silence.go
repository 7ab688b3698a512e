package gridstate

import "time"

// NodeSilence is a timed suppression of probing for one named peer (spec
// §3 "NodeSilence"). Grounded on silence/silence.go's record shape, minus
// matchers (the grid silences by name, not by label set) and minus the
// protobuf/snapshot machinery (no persistence — spec Non-goals).
type NodeSilence struct {
	ID          uint64
	NodeName    string
	SilentUntil time.Time
	// Broadcasted is true once this process has successfully pushed the
	// silence to at least one peer, or the record arrived via
	// /silence-broadcast (received records count as already gossiped).
	Broadcasted bool
}

// expired reports whether the silence should be reaped. A silence is kept
// only while SilentUntil is strictly after now, so one ending exactly at
// now counts as expired (spec §9).
func (s NodeSilence) expired(now time.Time) bool {
	return !s.SilentUntil.After(now)
}
