package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reminder-engine/internal/model"
)

// ActivityRepository reads and records tracked activities.
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Latest returns the most recent activity of kind for subject by start time,
// or nil when there is none.
func (r *ActivityRepository) Latest(ctx context.Context, subjectID string, kind model.ActivityKind) (*model.ActivityRecord, error) {
	var rec model.ActivityRecord
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND kind = ?", subjectID, kind).
		Order("start_time DESC").
		First(&rec).Error
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("latest activity: %w", err)
	}
}

func (r *ActivityRepository) Record(ctx context.Context, rec *model.ActivityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}
