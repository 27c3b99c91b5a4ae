package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"reminder-engine/internal/model"
)

// RuleRepository handles CRUD for reminder rules.
type RuleRepository struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewRuleRepository(db *gorm.DB, log zerolog.Logger) *RuleRepository {
	return &RuleRepository{db: db, log: log}
}

// ListEnabled returns every enabled rule. Rows that cannot be decoded are
// returned without a schedule so callers treat them as non-matching.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]model.Rule, error) {
	var records []model.RuleRecord
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}

	rules := make([]model.Rule, 0, len(records))
	for _, rec := range records {
		rule, err := rec.ToRule()
		if err != nil {
			r.log.Warn().Err(err).Str("rule_id", rec.ID).Msg("stored rule is malformed")
			rule.Schedule = nil
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *RuleRepository) Create(ctx context.Context, rule model.Rule) (model.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rec, err := model.NewRuleRecord(rule)
	if err != nil {
		return model.Rule{}, err
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return model.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// Update replaces the rule payload; the owner may not change.
func (r *RuleRepository) Update(ctx context.Context, rule model.Rule) error {
	rec, err := model.NewRuleRecord(rule)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&model.RuleRecord{}).
		Where("id = ? AND owner_id = ?", rule.ID, rule.OwnerID).
		Select("activity_kind", "kind", "enabled", "time_of_day", "repeat_days", "interval_minutes", "title", "message").
		Updates(&rec)
	if res.Error != nil {
		return fmt.Errorf("update rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *RuleRepository) SetEnabled(ctx context.Context, ownerID, ruleID string, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&model.RuleRecord{}).
		Where("id = ? AND owner_id = ?", ruleID, ownerID).
		Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("toggle rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, ownerID, ruleID string) error {
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", ruleID, ownerID).
		Delete(&model.RuleRecord{}).Error; err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}
