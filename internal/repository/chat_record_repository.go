package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Chandra1295/multi-modal-rag/internal/model"
)

// ErrPersistence marks storage failures. Write paths log these without
// surfacing them to the user; reads map them to a 503.
var ErrPersistence = errors.New("persistence failed")

type ChatRecordRepository struct {
	db *gorm.DB
}

func NewChatRecordRepository(db *gorm.DB) *ChatRecordRepository {
	return &ChatRecordRepository{db: db}
}

// Create appends one immutable record; the timestamp is assigned on insert.
func (r *ChatRecordRepository) Create(record *model.ChatRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("%w: create chat record: %v", ErrPersistence, err)
	}
	return nil
}

// ListRecentByUserID returns at most limit records for the identity, newest
// first. No records is an empty slice, never an error.
func (r *ChatRecordRepository) ListRecentByUserID(userID string, limit int) ([]model.ChatRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	var records []model.ChatRecord
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: list chat records: %v", ErrPersistence, err)
	}
	return records, nil
}
