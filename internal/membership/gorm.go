package membership

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Gorm is the Postgres-backed repository.
type Gorm struct {
	db *gorm.DB
}

func OpenGorm(dsn string, logger *zap.Logger) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open membership db: %w", err)
	}
	if err := db.AutoMigrate(&Room{}, &UserRoom{}); err != nil {
		if sqlDB, cerr := db.DB(); cerr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("migrate membership tables: %w", err)
	}
	if logger != nil {
		logger.Info("membership tables ready")
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) CreateRoom(ctx context.Context, roomID, founderID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"status": StatusLive}),
		}).Create(&Room{ID: roomID, Status: StatusLive}).Error
		if err != nil {
			return fmt.Errorf("create room %s: %w", roomID, err)
		}
		return addMember(tx, roomID, founderID)
	})
}

func (g *Gorm) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var n int64
	if err := g.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count room %s: %w", roomID, err)
	}
	return n > 0, nil
}

func (g *Gorm) AddMember(ctx context.Context, roomID, userID string) error {
	exists, err := g.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}
	return addMember(g.db.WithContext(ctx), roomID, userID)
}

func addMember(tx *gorm.DB, roomID, userID string) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserRoom{UserID: userID, RoomID: roomID}).Error
	if err != nil {
		return fmt.Errorf("add %s to room %s: %w", userID, roomID, err)
	}
	return nil
}

func (g *Gorm) ListUserRooms(ctx context.Context, userID string) ([]Membership, error) {
	out := []Membership{}
	err := g.db.WithContext(ctx).
		Table("users_to_rooms").
		Select("rooms.id AS room_id, rooms.status AS status").
		Joins("JOIN rooms ON rooms.id = users_to_rooms.room_id").
		Where("users_to_rooms.user_id = ?", userID).
		Order("users_to_rooms.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms for %s: %w", userID, err)
	}
	return out, nil
}

func (g *Gorm) ArchiveRoom(ctx context.Context, roomID string) error {
	res := g.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).Update("status", StatusArchived)
	if res.Error != nil {
		return fmt.Errorf("archive room %s: %w", roomID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
