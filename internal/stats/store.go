package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RoomRecord is one lifetime of a room, from creation to close.
type RoomRecord struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	Lifetime       string     `gorm:"index;size:36" json:"lifetime,omitempty"`
	RoomID         string     `gorm:"index;size:255" json:"roomId"`
	CreatedAt      time.Time  `json:"createdAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	UserCount      int        `json:"userCount"`
	CallSuccessful bool       `json:"callSuccessful"`
}

// UserRecord is one stay of a user in a room's active slots.
type UserRecord struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"size:255"`
	ConnectionID string `gorm:"index;size:64"`
	RoomID       string `gorm:"index;size:255"`
	JoinedAt     time.Time
	LeftAt       *time.Time
}

// StatsRecord holds the saved aggregate counters. There is only ever one row.
type StatsRecord struct {
	ID                  uint `gorm:"primaryKey"`
	TotalRooms          int64
	TotalUsers          int64
	SuccessfulCalls     int64
	DroppedCalls        int64
	PeakConcurrentUsers int64
	UpdatedAt           time.Time
}

const statsRowID = 1

// Store persists lifecycle events and aggregate counters with gorm.
type Store struct {
	db *gorm.DB
}

// OpenStore opens the sqlite database at dsn and migrates the schema.
func OpenStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open stats database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, and a single connection keeps
	// in-memory databases alive and shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RoomRecord{}, &UserRecord{}, &StatsRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate stats database: %w", err)
	}
	return &Store{db: db}, nil
}

// Emit implements Sink.
func (s *Store) Emit(ctx context.Context, ev Event) error {
	db := s.db.WithContext(ctx)
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Kind {
	case RoomCreated:
		if ev.Lifetime == "" {
			return db.Create(&RoomRecord{RoomID: ev.Room, CreatedAt: at}).Error
		}
		rec, err := s.lifetimeRecord(db, ev, at)
		if err != nil {
			return err
		}
		return db.Model(rec).Update("created_at", at).Error

	case UserJoined:
		if err := db.Create(&UserRecord{
			UserID:       ev.Identity,
			ConnectionID: ev.Connection,
			RoomID:       ev.Room,
			JoinedAt:     at,
		}).Error; err != nil {
			return err
		}
		return s.updateRoom(db, ev, at, "user_count", gorm.Expr("user_count + ?", 1))

	case UserLeft:
		return db.Model(&UserRecord{}).
			Where("connection_id = ? AND room_id = ? AND left_at IS NULL", ev.Connection, ev.Room).
			Update("left_at", at).Error

	case CallSucceeded:
		return s.updateRoom(db, ev, at, "call_successful", true)

	case RoomClosed:
		return s.updateRoom(db, ev, at, "ended_at", at)
	}
	return nil
}

// updateRoom updates the record of the room lifetime ev belongs to. Events of
// one lifetime can arrive after those of the next, so the record is found by
// lifetime rather than by being the newest open one.
func (s *Store) updateRoom(db *gorm.DB, ev Event, at time.Time, column string, value any) error {
	if ev.Lifetime == "" {
		return s.updateOpenRoom(db, ev.Room, column, value)
	}
	rec, err := s.lifetimeRecord(db, ev, at)
	if err != nil {
		return err
	}
	return db.Model(rec).Update(column, value).Error
}

// lifetimeRecord returns the record of ev's lifetime, creating it when an
// event overtook the lifetime's room-created.
func (s *Store) lifetimeRecord(db *gorm.DB, ev Event, at time.Time) (*RoomRecord, error) {
	var rec RoomRecord
	err := db.Where(RoomRecord{Lifetime: ev.Lifetime}).
		Attrs(RoomRecord{RoomID: ev.Room, CreatedAt: at}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// updateOpenRoom updates the most recent record of room that has not ended.
// It serves events that carry no lifetime.
func (s *Store) updateOpenRoom(db *gorm.DB, room, column string, value any) error {
	var rec RoomRecord
	err := db.Where("room_id = ? AND ended_at IS NULL", room).Order("id desc").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The room was created before persistence was enabled.
		return nil
	}
	if err != nil {
		return err
	}
	return db.Model(&rec).Update(column, value).Error
}

// Save writes the aggregate counters.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	return s.db.WithContext(ctx).Save(&StatsRecord{
		ID:                  statsRowID,
		TotalRooms:          snap.TotalRooms,
		TotalUsers:          snap.TotalUsers,
		SuccessfulCalls:     snap.SuccessfulCalls,
		DroppedCalls:        snap.DroppedCalls,
		PeakConcurrentUsers: snap.PeakConcurrentUsers,
	}).Error
}

// Load returns the saved counters together with the join count of every room.
// An empty database yields zero values.
func (s *Store) Load(ctx context.Context) (Snapshot, map[string]int64, error) {
	db := s.db.WithContext(ctx)

	var snap Snapshot
	var rec StatsRecord
	err := db.First(&rec, statsRowID).Error
	switch {
	case err == nil:
		snap = Snapshot{
			TotalRooms:          rec.TotalRooms,
			TotalUsers:          rec.TotalUsers,
			SuccessfulCalls:     rec.SuccessfulCalls,
			DroppedCalls:        rec.DroppedCalls,
			PeakConcurrentUsers: rec.PeakConcurrentUsers,
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Snapshot{}, nil, err
	}

	var rows []struct {
		RoomID string
		Joins  int64
	}
	if err := db.Model(&UserRecord{}).
		Select("room_id, count(*) as joins").
		Group("room_id").
		Scan(&rows).Error; err != nil {
		return Snapshot{}, nil, err
	}
	joins := make(map[string]int64, len(rows))
	for _, row := range rows {
		joins[row.RoomID] = row.Joins
	}
	snap.MostPopularRoom = mostPopular(joins)
	return snap, joins, nil
}

// Rooms returns the most recent room records, newest first.
func (s *Store) Rooms(ctx context.Context, limit int) ([]RoomRecord, error) {
	var recs []RoomRecord
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
