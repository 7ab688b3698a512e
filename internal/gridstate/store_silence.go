package gridstate

import "time"

// --- Silence Store (C4, spec §4.2) -----------------------------------------

// IsSilenced reports whether name is currently covered by a non-expired
// silence (spec §4.2 "is_silenced").
func (s *Store) IsSilenced(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sil := range s.silences {
		if sil.NodeName == name && !sil.expired(now) {
			return true
		}
	}
	return false
}

// CreateSilence inserts a fresh operator-issued silence for target, valid
// until `until`. target must be self or a known peer (spec §4.2).
func (s *Store) CreateSilence(target string, until time.Time) (NodeSilence, error) {
	if !s.KnownName(target) {
		return NodeSilence{}, ErrUnknownTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.roller.Uint64()
	sil := &NodeSilence{ID: id, NodeName: target, SilentUntil: until, Broadcasted: false}
	s.silences[id] = sil
	return *sil, nil
}

// ReceiveBroadcast inserts a silence record received from a peer. It is
// idempotent by ID (spec §4.2, invariant/testable-property 5): a record
// already present is a no-op. A freshly received record is marked
// Broadcasted so this node never re-gossips it (spec §4.2 "received
// records are considered already gossiped").
func (s *Store) ReceiveBroadcast(rec NodeSilence) (inserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.silences[rec.ID]; exists {
		return false
	}
	rec.Broadcasted = true
	s.silences[rec.ID] = &rec
	return true
}

// ReapSilences removes every silence whose SilentUntil has passed (spec
// §4.2 "reap", §9 "uses strict >; a silence whose silent_until equals now
// is considered expired"). It returns the number removed.
func (s *Store) ReapSilences(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sil := range s.silences {
		if sil.expired(now) {
			delete(s.silences, id)
			n++
		}
	}
	return n
}

// PendingBroadcasts snapshots every silence not yet gossiped to any peer
// (spec §4.2 "pending_broadcasts").
func (s *Store) PendingBroadcasts() []NodeSilence {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []NodeSilence
	for _, sil := range s.silences {
		if !sil.Broadcasted {
			out = append(out, *sil)
		}
	}
	return out
}

// MarkBroadcasted flips a silence's Broadcasted bit once it has been
// accepted by at least one peer (spec §4.5 step 3).
func (s *Store) MarkBroadcasted(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sil, ok := s.silences[id]; ok {
		sil.Broadcasted = true
	}
}
