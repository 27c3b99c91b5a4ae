package repository

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"reminder-engine/internal/model"
)

// Store is the query surface the engine consumes, backed by the repositories.
type Store struct {
	Rules      *RuleRepository
	Activities *ActivityRepository
	Users      *UserRepository
}

func NewStore(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{
		Rules:      NewRuleRepository(db, log),
		Activities: NewActivityRepository(db),
		Users:      NewUserRepository(db),
	}
}

func (s *Store) ListEnabledRules(ctx context.Context) ([]model.Rule, error) {
	return s.Rules.ListEnabled(ctx)
}

func (s *Store) GetLatestActivity(ctx context.Context, subjectID string, kind model.ActivityKind) (*model.ActivityRecord, error) {
	return s.Activities.Latest(ctx, subjectID, kind)
}

func (s *Store) ResolveOwnerChannels(ctx context.Context, ownerID string) (model.DeliveryTarget, error) {
	return s.Users.ResolveChannels(ctx, ownerID)
}

func (s *Store) DeleteDeviceTokens(ctx context.Context, tokens []string) error {
	return s.Users.DeleteTokens(ctx, tokens)
}
