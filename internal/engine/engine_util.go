package engine

import (
	"encoding/json"
	"fmt"
	"slices"
)

func NewSnapshot() Snapshot {
	return Snapshot{
		Phase:   PhaseChoosing,
		Context: Context{Players: []Player{}},
	}
}

// Clone returns a deep copy. A nil player list comes back empty.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Context.Players = make([]Player, len(s.Context.Players))
	copy(out.Context.Players, s.Context.Players)
	return out
}

// Equal treats a nil and an empty player list as the same.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Phase == o.Phase &&
		s.Context.LockedInCount == o.Context.LockedInCount &&
		slices.Equal(s.Context.Players, o.Context.Players)
}

func (s Snapshot) Player(id string) (Player, bool) {
	if i := indexOf(s, id); i >= 0 {
		return s.Context.Players[i], true
	}
	return Player{}, false
}

// Encode renders the wire and storage form of a snapshot.
func Encode(s Snapshot) ([]byte, error) {
	if s.Context.Players == nil {
		s.Context.Players = []Player{}
	}
	return json.Marshal(s)
}

// Decode parses and checks a stored snapshot, including the locked-in count.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if s.Context.Players == nil {
		s.Context.Players = []Player{}
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func (s Snapshot) Validate() error {
	switch s.Phase {
	case PhaseChoosing, PhaseLockedIn, PhaseRevealed:
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrMalformedSnapshot, s.Phase)
	}

	seen := make(map[string]bool, len(s.Context.Players))
	for _, p := range s.Context.Players {
		if p.ID == "" {
			return fmt.Errorf("%w: player without id", ErrMalformedSnapshot)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate player %q", ErrMalformedSnapshot, p.ID)
		}
		seen[p.ID] = true
		if p.State != PlayerChoosing && p.State != PlayerLockedIn {
			return fmt.Errorf("%w: player %q has state %q", ErrMalformedSnapshot, p.ID, p.State)
		}
		if p.Choice != OptionNone && !p.Choice.Valid() {
			return fmt.Errorf("%w: player %q has option %q", ErrMalformedSnapshot, p.ID, p.Choice)
		}
	}

	if n := countLockedIn(s.Context.Players); n != s.Context.LockedInCount {
		return fmt.Errorf("%w: lockedInCount %d, %d players locked in", ErrMalformedSnapshot, s.Context.LockedInCount, n)
	}
	return nil
}
