package engine

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTransition = errors.New("invalid transition")
var ErrMalformedEvent = errors.New("malformed event")
var ErrMalformedSnapshot = errors.New("malformed snapshot")
var ErrNotRevealed = errors.New("round not revealed")

type Phase string

const (
	PhaseChoosing Phase = "choosing"
	PhaseLockedIn Phase = "lockedIn"
	PhaseRevealed Phase = "revealed"
)

type PlayerState string

const (
	PlayerChoosing PlayerState = "choosing"
	PlayerLockedIn PlayerState = "locked-in"
)

type Player struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Choice Option      `json:"choice,omitempty"`
	State  PlayerState `json:"state"`
}

// Context is the round's extended state. Players keep join order.
type Context struct {
	Players       []Player `json:"players"`
	LockedInCount int      `json:"lockedInCount"`
}

type Snapshot struct {
	Phase   Phase   `json:"phase"`
	Context Context `json:"context"`
}

type EventType string

const (
	EvtPlayerJoin   EventType = "player.join"
	EvtPlayerChoose EventType = "player.choose"
	EvtPlayerLock   EventType = "player.lock"
	EvtGameReveal   EventType = "game.reveal"
	EvtGameReset    EventType = "game.reset"
)

/*
	player.join   -> upsert by id (choosing only)
	player.choose -> set choice (choosing only)
	player.lock   -> lock a chosen player, then maybe auto-advance to lockedIn
	game.reveal   -> lockedIn -> revealed
	game.reset    -> lockedIn|revealed -> fresh choosing round, same roster
*/

// Event carries no room identity; the coordinator that receives it owns the room.
type Event struct {
	Type     EventType
	PlayerID string
	Name     string
	Choice   Option
}

// TransitionError reports an event that was well formed but not accepted in
// the current phase. The snapshot it came with is left untouched.
type TransitionError struct {
	Phase  Phase
	Event  EventType
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s in phase %s: %s", e.Event, e.Phase, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func reject(s Snapshot, ev Event, reason string) (Snapshot, error) {
	return s, &TransitionError{Phase: s.Phase, Event: ev.Type, Reason: reason}
}

// Validate checks the shape of an event independent of any snapshot.
func (ev Event) Validate() error {
	switch ev.Type {
	case EvtPlayerJoin:
		if strings.TrimSpace(ev.PlayerID) == "" {
			return fmt.Errorf("%w: %s requires a player id", ErrMalformedEvent, ev.Type)
		}
		if strings.TrimSpace(ev.Name) == "" {
			return fmt.Errorf("%w: %s requires a player name", ErrMalformedEvent, ev.Type)
		}
	case EvtPlayerChoose:
		if strings.TrimSpace(ev.PlayerID) == "" {
			return fmt.Errorf("%w: %s requires a player id", ErrMalformedEvent, ev.Type)
		}
		if !ev.Choice.Valid() {
			return fmt.Errorf("%w: unknown option %q", ErrMalformedEvent, ev.Choice)
		}
	case EvtPlayerLock:
		if strings.TrimSpace(ev.PlayerID) == "" {
			return fmt.Errorf("%w: %s requires a player id", ErrMalformedEvent, ev.Type)
		}
	case EvtGameReveal, EvtGameReset:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, ev.Type)
	}
	return nil
}

// Apply is the round's transition function. It never mutates s; the returned
// snapshot shares no player storage with it. A rejected event returns s
// together with a *TransitionError.
func Apply(s Snapshot, ev Event) (Snapshot, error) {
	if err := ev.Validate(); err != nil {
		return s, err
	}

	switch s.Phase {
	case PhaseChoosing:
		return applyChoosing(s, ev)

	case PhaseLockedIn:
		switch ev.Type {
		case EvtGameReveal:
			next := s.Clone()
			next.Phase = PhaseRevealed
			return next, nil
		case EvtGameReset:
			return Reset(s), nil
		}
		return reject(s, ev, "round is locked in")

	case PhaseRevealed:
		if ev.Type == EvtGameReset {
			return Reset(s), nil
		}
		return reject(s, ev, "round is revealed")

	default:
		return reject(s, ev, fmt.Sprintf("unknown phase %q", s.Phase))
	}
}

func applyChoosing(s Snapshot, ev Event) (Snapshot, error) {
	next := s.Clone()

	switch ev.Type {
	case EvtPlayerJoin:
		p := Player{ID: ev.PlayerID, Name: ev.Name, State: PlayerChoosing}
		if i := indexOf(next, ev.PlayerID); i >= 0 {
			next.Context.Players[i] = p
		} else {
			next.Context.Players = append(next.Context.Players, p)
		}

	case EvtPlayerChoose:
		i := indexOf(next, ev.PlayerID)
		if i < 0 {
			return reject(s, ev, "unknown player")
		}
		next.Context.Players[i].Choice = ev.Choice

	case EvtPlayerLock:
		i := indexOf(next, ev.PlayerID)
		if i < 0 {
			return reject(s, ev, "unknown player")
		}
		p := next.Context.Players[i]
		if p.Choice == OptionNone {
			return reject(s, ev, "player has no choice")
		}
		if p.State == PlayerLockedIn {
			return reject(s, ev, "player already locked in")
		}
		next.Context.Players[i].State = PlayerLockedIn

	case EvtGameReveal:
		return reject(s, ev, "not every player is locked in")

	case EvtGameReset:
		return reject(s, ev, "round has not been locked in")
	}

	next.Context.LockedInCount = countLockedIn(next.Context.Players)
	if allLockedIn(next) {
		next.Phase = PhaseLockedIn
	}
	return next, nil
}

// Reset starts a new round for the same roster: players keep their id, name
// and order, and lose their choice and lock.
func Reset(s Snapshot) Snapshot {
	next := NewSnapshot()
	for _, p := range s.Context.Players {
		next, _ = applyChoosing(next, Event{Type: EvtPlayerJoin, PlayerID: p.ID, Name: p.Name})
	}
	return next
}

func indexOf(s Snapshot, id string) int {
	for i, p := range s.Context.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func countLockedIn(players []Player) int {
	n := 0
	for _, p := range players {
		if p.State == PlayerLockedIn {
			n++
		}
	}
	return n
}

func allLockedIn(s Snapshot) bool {
	return len(s.Context.Players) > 0 && s.Context.LockedInCount == len(s.Context.Players)
}
