package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRule marks stored rules whose payload does not match their kind.
var ErrMalformedRule = errors.New("malformed rule")

// ActivityKind is a tracked activity category.
type ActivityKind string

const (
	ActivityFeeding  ActivityKind = "feeding"
	ActivitySleep    ActivityKind = "sleep"
	ActivityDiaper   ActivityKind = "diaper"
	ActivityPumping  ActivityKind = "pumping"
	ActivityMedicine ActivityKind = "medicine"
	ActivityBath     ActivityKind = "bath"
	ActivityOther    ActivityKind = "other"
)

// RuleKind selects which schedule payload a rule carries.
type RuleKind string

const (
	RuleKindTime     RuleKind = "time"
	RuleKindInterval RuleKind = "interval"
)

// Schedule is implemented by TimeSchedule and IntervalSchedule only.
type Schedule interface {
	Kind() RuleKind
	isSchedule()
}

// TimeOfDay is a wall-clock time in the engine's reference zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses an HH:MM string.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// WeekdaySet is a bitmask of weekdays, bit 0 = Sunday.
type WeekdaySet uint8

// AllDays contains every weekday.
const AllDays WeekdaySet = 1<<7 - 1

// NewWeekdaySet builds a set from indices 0 (Sunday) through 6 (Saturday).
func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	var s WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, fmt.Errorf("weekday %d out of range 0-6", d)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Days returns the indices in ascending order.
func (s WeekdaySet) Days() []int {
	var out []int
	for d := 0; d < 7; d++ {
		if s.Has(time.Weekday(d)) {
			out = append(out, d)
		}
	}
	return out
}

// TimeSchedule fires at a wall-clock time on selected weekdays.
type TimeSchedule struct {
	At   TimeOfDay
	Days WeekdaySet
}

func (TimeSchedule) Kind() RuleKind { return RuleKindTime }
func (TimeSchedule) isSchedule()    {}

// MaxIntervalMinutes caps an interval rule at one year.
const MaxIntervalMinutes = 366 * 24 * 60

// IntervalSchedule fires once per elapsed interval since the last activity.
type IntervalSchedule struct {
	Minutes int
}

func (IntervalSchedule) Kind() RuleKind { return RuleKindInterval }
func (IntervalSchedule) isSchedule()    {}

// Rule is a user-owned reminder definition.
type Rule struct {
	ID           string
	OwnerID      string
	ActivityKind ActivityKind
	Enabled      bool
	Title        string
	Message      string
	Schedule     Schedule
}

// Kind returns the schedule kind, or "" for a rule without a schedule.
func (r Rule) Kind() RuleKind {
	if r.Schedule == nil {
		return ""
	}
	return r.Schedule.Kind()
}

// Validate checks that the schedule payload is well formed.
func (r Rule) Validate() error {
	switch s := r.Schedule.(type) {
	case TimeSchedule:
		if !s.At.Valid() {
			return fmt.Errorf("%w: time of day %s", ErrMalformedRule, s.At)
		}
	case IntervalSchedule:
		if s.Minutes <= 0 || s.Minutes > MaxIntervalMinutes {
			return fmt.Errorf("%w: interval %d minutes", ErrMalformedRule, s.Minutes)
		}
	default:
		return fmt.Errorf("%w: missing schedule", ErrMalformedRule)
	}
	return nil
}

// RuleRecord is the stored row for a rule.
type RuleRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	OwnerID         string `gorm:"index;not null"`
	ActivityKind    string `gorm:"not null"`
	Kind            string `gorm:"not null"`
	Enabled         bool   `gorm:"index"`
	TimeOfDay       string // HH:MM, time rules only
	RepeatDays      string // comma separated weekday indices, time rules only
	IntervalMinutes *int   // interval rules only
	Title           string
	Message         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (RuleRecord) TableName() string { return "rules" }

// ToRule converts the stored row into the tagged rule form.
func (r RuleRecord) ToRule() (Rule, error) {
	rule := Rule{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		ActivityKind: ActivityKind(r.ActivityKind),
		Enabled:      r.Enabled,
		Title:        r.Title,
		Message:      r.Message,
	}

	switch RuleKind(r.Kind) {
	case RuleKindTime:
		if r.IntervalMinutes != nil {
			return rule, fmt.Errorf("%w: rule %s has both payloads", ErrMalformedRule, r.ID)
		}
		at, err := ParseTimeOfDay(r.TimeOfDay)
		if err != nil {
			return rule, fmt.Errorf("%w: rule %s: %v", ErrMalformedRule, r.ID, err)
		}
		days, err := parseDays(r.RepeatDays)
		if err != nil {
			return rule, fmt.Errorf("%w: rule %s: %v", ErrMalformedRule, r.ID, err)
		}
		rule.Schedule = TimeSchedule{At: at, Days: days}
	case RuleKindInterval:
		if r.TimeOfDay != "" {
			return rule, fmt.Errorf("%w: rule %s has both payloads", ErrMalformedRule, r.ID)
		}
		if r.IntervalMinutes == nil {
			return rule, fmt.Errorf("%w: rule %s has no interval", ErrMalformedRule, r.ID)
		}
		rule.Schedule = IntervalSchedule{Minutes: *r.IntervalMinutes}
	default:
		return rule, fmt.Errorf("%w: rule %s has unknown kind %q", ErrMalformedRule, r.ID, r.Kind)
	}

	if err := rule.Validate(); err != nil {
		return rule, err
	}
	return rule, nil
}

// NewRuleRecord flattens a rule into its stored row.
func NewRuleRecord(rule Rule) (RuleRecord, error) {
	if err := rule.Validate(); err != nil {
		return RuleRecord{}, err
	}
	rec := RuleRecord{
		ID:           rule.ID,
		OwnerID:      rule.OwnerID,
		ActivityKind: string(rule.ActivityKind),
		Kind:         string(rule.Kind()),
		Enabled:      rule.Enabled,
		Title:        rule.Title,
		Message:      rule.Message,
	}
	switch s := rule.Schedule.(type) {
	case TimeSchedule:
		rec.TimeOfDay = s.At.String()
		rec.RepeatDays = formatDays(s.Days)
	case IntervalSchedule:
		minutes := s.Minutes
		rec.IntervalMinutes = &minutes
	}
	return rec, nil
}

func parseDays(raw string) (WeekdaySet, error) {
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid weekday %q", part)
		}
		days = append(days, d)
	}
	return NewWeekdaySet(days...)
}

func formatDays(s WeekdaySet) string {
	days := s.Days()
	sort.Ints(days)
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
