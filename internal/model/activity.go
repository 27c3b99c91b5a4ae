package model

import "time"

// ActivityRecord is one logged activity of a subject.
type ActivityRecord struct {
	ID        string       `gorm:"primaryKey;size:36"`
	SubjectID string       `gorm:"index:idx_activity_subject_kind_start,priority:1;not null"`
	Kind      ActivityKind `gorm:"index:idx_activity_subject_kind_start,priority:2;not null"`
	StartTime time.Time    `gorm:"index:idx_activity_subject_kind_start,priority:3;not null"`
	EndTime   *time.Time
	CreatedAt time.Time
}

func (ActivityRecord) TableName() string { return "activities" }

// LastOccurrence is the instant interval rules measure from: the end of the
// activity, or its start while it is still in progress.
func (a ActivityRecord) LastOccurrence() time.Time {
	if a.EndTime != nil && !a.EndTime.IsZero() {
		return *a.EndTime
	}
	return a.StartTime
}
