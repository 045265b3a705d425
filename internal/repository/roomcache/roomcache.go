package roomcache

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collab-editing-be/pkg/database"
)

// DocumentState is one cached CRDT blob, keyed by room and file path. The
// blob round-trips through the same CRDT decode used on the wire.
type DocumentState struct {
	RoomID    string `gorm:"primaryKey;size:128"`
	FilePath  string `gorm:"primaryKey;size:512"`
	State     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (DocumentState) TableName() string {
	return "document_states"
}

// Store is the durable local cache behind a session. A participant who
// reconnects offline reads their last-known state from here before any
// peer is reachable.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := database.NewGormDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DocumentState{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// LoadRoom returns every cached document for the room, keyed by file path.
// An unknown room yields an empty map, not an error.
func (s *Store) LoadRoom(ctx context.Context, roomID string) (map[string][]byte, error) {
	var rows []DocumentState
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(rows))
	for _, row := range rows {
		out[row.FilePath] = row.State
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, roomID, filePath string, state []byte) error {
	row := DocumentState{
		RoomID:    roomID,
		FilePath:  filePath,
		State:     state,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&DocumentState{}).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
