// Package membership records which users belong to which rooms. It is the
// relational side of room bootstrap; game state lives in the snapshot store.
package membership

import (
	"context"
	"errors"
	"time"
)

var ErrRoomNotFound = errors.New("room not registered")

type Status string

const (
	StatusLive     Status = "live"
	StatusArchived Status = "archived"
)

type Room struct {
	ID        string    `gorm:"primaryKey;size:16"`
	Status    Status    `gorm:"size:16;not null;default:live"`
	CreatedAt time.Time
}

func (Room) TableName() string { return "rooms" }

type UserRoom struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:idx_user_room"`
	RoomID    string `gorm:"size:16;not null;uniqueIndex:idx_user_room;index"`
	CreatedAt time.Time
}

func (UserRoom) TableName() string { return "users_to_rooms" }

type Membership struct {
	RoomID string `json:"roomId" gorm:"column:room_id"`
	Status Status `json:"status" gorm:"column:status"`
}

type Repository interface {
	// CreateRoom registers roomID as live with founderID as its first member.
	// Registering an existing room marks it live again.
	CreateRoom(ctx context.Context, roomID, founderID string) error
	RoomExists(ctx context.Context, roomID string) (bool, error)
	// AddMember is a no-op when the user already belongs to the room.
	AddMember(ctx context.Context, roomID, userID string) error
	ListUserRooms(ctx context.Context, userID string) ([]Membership, error)
	ArchiveRoom(ctx context.Context, roomID string) error
	Close() error
}
