package model

import "time"

// User owns rules and receives their notifications.
type User struct {
	ID             string `gorm:"primaryKey;size:36"`
	Name           string
	TelegramChatID *int64 `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeviceTokens   []DeviceToken `gorm:"foreignKey:UserID"`
}
