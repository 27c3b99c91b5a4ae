package model

import "time"

// PlatformFCM tags tokens registered with Firebase Cloud Messaging.
const PlatformFCM = "fcm"

// DeviceToken is a push registration for one of a user's devices.
type DeviceToken struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index;not null"`
	Token     string `gorm:"uniqueIndex;not null"`
	Platform  string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeliveryTarget holds the channel endpoints resolved for a rule owner.
type DeliveryTarget struct {
	ChatID *int64
	Tokens []DeviceToken
}

// TokensFor returns the tokens tagged with platform.
func (t DeliveryTarget) TokensFor(platform string) []string {
	var out []string
	for _, tok := range t.Tokens {
		if tok.Platform == platform && tok.Token != "" {
			out = append(out, tok.Token)
		}
	}
	return out
}

// Empty reports whether no channel endpoint is known.
func (t DeliveryTarget) Empty() bool {
	return t.ChatID == nil && len(t.Tokens) == 0
}
