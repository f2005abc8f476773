package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday names a timetable day.
type Weekday string

const (
	WeekdayMonday    Weekday = "monday"
	WeekdayTuesday   Weekday = "tuesday"
	WeekdayWednesday Weekday = "wednesday"
	WeekdayThursday  Weekday = "thursday"
	WeekdayFriday    Weekday = "friday"
	WeekdaySaturday  Weekday = "saturday"
	WeekdaySunday    Weekday = "sunday"
)

var weekdayIndex = map[Weekday]int{
	WeekdayMonday:    0,
	WeekdayTuesday:   1,
	WeekdayWednesday: 2,
	WeekdayThursday:  3,
	WeekdayFriday:    4,
	WeekdaySaturday:  5,
	WeekdaySunday:    6,
}

// Valid reports whether d names one of the seven known days.
func (d Weekday) Valid() bool {
	_, ok := weekdayIndex[d]
	return ok
}

// Index returns the day's position in the week, Monday first, or -1 when unknown.
func (d Weekday) Index() int {
	if i, ok := weekdayIndex[d]; ok {
		return i
	}
	return -1
}

// ClockMinutes converts a wall-clock "HH:MM" string to minutes since midnight.
func ClockMinutes(clock string) (int, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock time %q", clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", clock)
	}
	return h*60 + m, nil
}

// EntryType classifies a schedule entry.
type EntryType string

const (
	EntryTypeRegular    EntryType = "regular"
	EntryTypeExam       EntryType = "exam"
	EntryTypeSpecial    EntryType = "special"
	EntryTypeSubstitute EntryType = "substitute"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeRegular, EntryTypeExam, EntryTypeSpecial, EntryTypeSubstitute:
		return true
	}
	return false
}

// EntryStatus represents lifecycle phases of a schedule entry.
type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "draft"
	EntryStatusPublished EntryStatus = "published"
	EntryStatusArchived  EntryStatus = "archived"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// CanTransitionTo reports whether the workflow allows moving from s to target.
// Archive and cancel are administrative and allowed from any other state;
// publish is only reachable from draft, and editing a published entry
// reopens it to draft.
func (s EntryStatus) CanTransitionTo(target EntryStatus) bool {
	if s == target {
		return false
	}
	switch target {
	case EntryStatusArchived, EntryStatusCancelled:
		return true
	case EntryStatusPublished:
		return s == EntryStatusDraft
	case EntryStatusDraft:
		return s == EntryStatusPublished
	}
	return false
}

// Committed reports whether entries in this status still occupy their slot
// and count toward conflict and load computations.
func (s EntryStatus) Committed() bool {
	return s == EntryStatusDraft || s == EntryStatusPublished
}

// ScheduleEntry is the unit of scheduling: one subject taught by one teacher
// to one class in one day/period slot of an academic session.
type ScheduleEntry struct {
	ID           string       `db:"id" json:"id"`
	SchoolID     string       `db:"school_id" json:"school_id"`
	SessionID    string       `db:"academic_session_id" json:"academic_session_id"`
	ClassID      string       `db:"class_id" json:"class_id"`
	SectionID    *string      `db:"section_id" json:"section_id,omitempty"`
	SubjectID    string       `db:"subject_id" json:"subject_id"`
	TeacherID    string       `db:"teacher_id" json:"teacher_id"`
	RoomID       *string      `db:"room_id" json:"room_id,omitempty"`
	DayOfWeek    Weekday      `db:"day_of_week" json:"day_of_week"`
	PeriodNumber int          `db:"period_number" json:"period_number"`
	StartTime    string       `db:"start_time" json:"start_time"`
	EndTime      string       `db:"end_time" json:"end_time"`
	EntryType    EntryType    `db:"entry_type" json:"entry_type"`
	IsBreak      bool         `db:"is_break" json:"is_break"`
	Status       EntryStatus  `db:"status" json:"status"`
	Conflicts    ConflictList `db:"conflicts" json:"conflicts"`
	Version      int          `db:"version" json:"version"`
	CreatedBy    string       `db:"created_by" json:"created_by"`
	UpdatedBy    *string      `db:"updated_by" json:"updated_by,omitempty"`
	PublishedBy  *string      `db:"published_by" json:"published_by,omitempty"`
	PublishedAt  *time.Time   `db:"published_at" json:"published_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// Scope returns the publish scope the entry belongs to.
func (e *ScheduleEntry) Scope() Scope {
	return Scope{
		SchoolID:  e.SchoolID,
		SessionID: e.SessionID,
		ClassID:   e.ClassID,
		SectionID: e.SectionID,
	}
}

// Interval returns the entry's [start, end) placement in minutes since midnight.
func (e *ScheduleEntry) Interval() (start, end int, err error) {
	start, err = ClockMinutes(e.StartTime)
	if err != nil {
		return 0, 0, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	end, err = ClockMinutes(e.EndTime)
	if err != nil {
		return 0, 0, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return start, end, nil
}

// PeriodContribution is the number of weekly periods the entry adds to its
// teacher's load. Breaks occupy a slot but teach nothing.
func (e *ScheduleEntry) PeriodContribution() int {
	if e.IsBreak {
		return 0
	}
	return 1
}

// Scope identifies the set of schedule entries that publish together.
type Scope struct {
	SchoolID  string  `json:"school_id"`
	SessionID string  `json:"academic_session_id"`
	ClassID   string  `json:"class_id"`
	SectionID *string `json:"section_id,omitempty"`
}

// Key renders the scope as a stable string usable for locks and cache keys.
func (s Scope) Key() string {
	section := ""
	if s.SectionID != nil {
		section = *s.SectionID
	}
	return strings.Join([]string{s.SchoolID, s.SessionID, s.ClassID, section}, ":")
}

// EntryFilter describes query params for listing schedule entries.
type EntryFilter struct {
	SchoolID  string
	SessionID string
	ClassID   string
	SectionID *string
	TeacherID string
	RoomID    string
	DayOfWeek string
	Status    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ScopeSummary aggregates the publish state of a scope for timetable views.
type ScopeSummary struct {
	Scope               Scope           `json:"scope"`
	DraftCount          int             `json:"draft_count"`
	PublishedCount      int             `json:"published_count"`
	UnresolvedConflicts int             `json:"unresolved_conflicts"`
	Entries             []ScheduleEntry `json:"entries"`
}

// TeacherLoad reports a teacher's committed weekly periods against the ceiling.
type TeacherLoad struct {
	TeacherID         string `json:"teacher_id"`
	SessionID         string `json:"academic_session_id"`
	CommittedPeriods  int    `json:"committed_periods"`
	MaxPeriodsPerWeek int    `json:"max_periods_per_week"`
	Exceeded          bool   `json:"exceeded"`
}
