package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ragchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByIDAndThreadID(ctx context.Context, id, threadID uint) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).Where("id = ? AND thread_id = ?", id, threadID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query message failed: %w", err)
	}
	return &msg, nil
}

// ListByThreadID returns up to limit messages oldest-first.
func (r *MessageRepository) ListByThreadID(ctx context.Context, threadID uint, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentByThreadID returns the newest limit messages, oldest-first.
func (r *MessageRepository) ListRecentByThreadID(ctx context.Context, threadID uint, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) DeleteByThreadID(ctx context.Context, threadID uint) error {
	if err := r.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages by thread failed: %w", err)
	}
	return nil
}
