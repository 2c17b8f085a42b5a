package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// userMemories is the row layout of the user_memories table
type userMemories struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"uniqueIndex;size:191;not null"`
	Memories  []string  `gorm:"serializer:json;type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userMemories) TableName() string { return "user_memories" }

// GormStore keeps insight sets in a MySQL database through gorm
type GormStore struct {
	db *gorm.DB
}

// NewMySQLStore connects to dsn and migrates the user_memories table
func NewMySQLStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open gorm connection
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&userMemories{}); err != nil {
		return nil, fmt.Errorf("migrate user_memories: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) FindByUser(ctx context.Context, userID string) (*Record, error) {
	var row userMemories
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	if row.Memories == nil {
		row.Memories = []string{}
	}
	return &Record{ID: row.ID, UserID: row.UserID, Memories: row.Memories}, nil
}

func (s *GormStore) Insert(ctx context.Context, userID string) (*Record, error) {
	row := userMemories{ID: uuid.New().String(), UserID: userID, Memories: []string{}}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert memories: %w", err)
	}
	return &Record{ID: row.ID, UserID: userID, Memories: []string{}}, nil
}

func (s *GormStore) Update(ctx context.Context, userID string, memories []string) error {
	res := s.db.WithContext(ctx).Model(&userMemories{}).
		Where("user_id = ?", userID).
		Select("memories", "updated_at").
		Updates(&userMemories{Memories: memories})
	if res.Error != nil {
		return fmt.Errorf("update memories: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
