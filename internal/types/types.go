package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DoyleJ11/planning-poker/internal/engine"
)

var ErrInvalidEvent = errors.New("invalid event")

type PlayerPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Choice string `json:"choice,omitempty"`
}

type EventPayload struct {
	Type   string         `json:"type"` // "player.join" | "player.choose" | "player.lock" | "game.reveal" | "game.reset"
	Player *PlayerPayload `json:"player,omitempty"`
}

// ClientMessage is what clients send over HTTP or the websocket. RoomID is
// optional; when present it must match the room the request is routed to.
type ClientMessage struct {
	RoomID string       `json:"roomId,omitempty"`
	Event  EventPayload `json:"event"`
}

type ServerMessage struct {
	Type    string `json:"type"` // "error" | "warning"
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type MemberRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func (r MemberRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" || strings.TrimSpace(r.UserName) == "" {
		return fmt.Errorf("%w: userId and userName are required", ErrInvalidEvent)
	}
	return nil
}

type RoomResponse struct {
	RoomID   string          `json:"roomId"`
	Snapshot engine.Snapshot `json:"snapshot"`
	Warning  string          `json:"warning,omitempty"`
}

type EventResponse struct {
	Snapshot engine.Snapshot `json:"snapshot"`
	Changed  bool            `json:"changed"`
	Warning  string          `json:"warning,omitempty"`
}

// DecodeClientMessage parses a client message addressed to roomID and turns
// it into an engine event. Unknown fields are rejected.
func DecodeClientMessage(data []byte, roomID string) (engine.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return engine.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if msg.RoomID != "" && msg.RoomID != roomID {
		return engine.Event{}, fmt.Errorf("%w: message for room %q sent to room %q", ErrInvalidEvent, msg.RoomID, roomID)
	}
	return msg.Event.ToEngine()
}

func (p EventPayload) ToEngine() (engine.Event, error) {
	ev := engine.Event{Type: engine.EventType(p.Type)}

	switch ev.Type {
	case engine.EvtPlayerJoin, engine.EvtPlayerChoose, engine.EvtPlayerLock:
		if p.Player == nil {
			return engine.Event{}, fmt.Errorf("%w: %s requires a player", ErrInvalidEvent, p.Type)
		}
		ev.PlayerID = p.Player.ID
		ev.Name = p.Player.Name
		ev.Choice = engine.Option(p.Player.Choice)
	case engine.EvtGameReveal, engine.EvtGameReset:
		if p.Player != nil {
			return engine.Event{}, fmt.Errorf("%w: %s takes no player", ErrInvalidEvent, p.Type)
		}
	default:
		return engine.Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, p.Type)
	}

	if err := ev.Validate(); err != nil {
		return engine.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ev, nil
}

// FromEngine is the inverse of ToEngine.
func FromEngine(ev engine.Event) EventPayload {
	p := EventPayload{Type: string(ev.Type)}
	switch ev.Type {
	case engine.EvtPlayerJoin:
		p.Player = &PlayerPayload{ID: ev.PlayerID, Name: ev.Name}
	case engine.EvtPlayerChoose:
		p.Player = &PlayerPayload{ID: ev.PlayerID, Choice: string(ev.Choice)}
	case engine.EvtPlayerLock:
		p.Player = &PlayerPayload{ID: ev.PlayerID}
	}
	return p
}
