package membership

import (
	"context"
	"slices"
	"sync"
	"time"
)

type Memory struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	members []UserRoom
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*Room)}
}

func (m *Memory) CreateRoom(ctx context.Context, roomID, founderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		r.Status = StatusLive
	} else {
		m.rooms[roomID] = &Room{ID: roomID, Status: StatusLive, CreatedAt: time.Now().UTC()}
	}
	m.addLocked(roomID, founderID)
	return nil
}

func (m *Memory) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok, nil
}

func (m *Memory) AddMember(ctx context.Context, roomID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return ErrRoomNotFound
	}
	m.addLocked(roomID, userID)
	return nil
}

func (m *Memory) addLocked(roomID, userID string) {
	exists := slices.ContainsFunc(m.members, func(ur UserRoom) bool {
		return ur.RoomID == roomID && ur.UserID == userID
	})
	if exists {
		return
	}
	m.members = append(m.members, UserRoom{
		ID:        uint(len(m.members) + 1),
		UserID:    userID,
		RoomID:    roomID,
		CreatedAt: time.Now().UTC(),
	})
}

func (m *Memory) ListUserRooms(ctx context.Context, userID string) ([]Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Membership{}
	for _, ur := range m.members {
		if ur.UserID != userID {
			continue
		}
		out = append(out, Membership{RoomID: ur.RoomID, Status: m.rooms[ur.RoomID].Status})
	}
	return out, nil
}

func (m *Memory) ArchiveRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.Status = StatusArchived
	return nil
}

func (m *Memory) Close() error { return nil }
