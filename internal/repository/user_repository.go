package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reminder-engine/internal/model"
)

// ErrOwnerNotFound is returned when a rule owner has no user record.
var ErrOwnerNotFound = errors.New("owner not found")

// UserRepository handles users and their push registrations.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// LinkChat stores the Telegram chat that receives the user's reminders.
func (r *UserRepository) LinkChat(ctx context.Context, userID string, chatID int64) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("telegram_chat_id", chatID)
	if res.Error != nil {
		return fmt.Errorf("link chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOwnerNotFound
	}
	return nil
}

// ResolveChannels returns the chat id and device tokens registered for userID.
func (r *UserRepository) ResolveChannels(ctx context.Context, userID string) (model.DeliveryTarget, error) {
	var user model.User
	err := r.db.WithContext(ctx).Preload("DeviceTokens").Where("id = ?", userID).First(&user).Error
	switch {
	case err == nil:
		return model.DeliveryTarget{ChatID: user.TelegramChatID, Tokens: user.DeviceTokens}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.DeliveryTarget{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, userID)
	default:
		return model.DeliveryTarget{}, fmt.Errorf("resolve channels: %w", err)
	}
}

// RegisterToken stores a push token for userID; a token already known is
// moved to the new owner.
func (r *UserRepository) RegisterToken(ctx context.Context, userID, token, platform string) error {
	db := r.db.WithContext(ctx)
	var existing model.DeviceToken
	err := db.Where("token = ?", token).First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{"user_id": userID, "platform": platform}
		if err := db.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update token: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec := model.DeviceToken{ID: uuid.NewString(), UserID: userID, Token: token, Platform: platform}
		if err := db.Create(&rec).Error; err != nil {
			return fmt.Errorf("create token: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find token: %w", err)
	}
}

// DeleteTokens removes the given push tokens in one statement.
func (r *UserRepository) DeleteTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&model.DeviceToken{}).Error; err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}
