package models

// The timetable core does not own teacher, room, session, or class records; it
// only consumes the slices of them that conflict and load checks need.

// TeacherRef is the part of an instructor record the timetable consumes.
type TeacherRef struct {
	ID                string `db:"id" json:"id"`
	FullName          string `db:"full_name" json:"full_name"`
	Active            bool   `db:"active" json:"active"`
	MaxPeriodsPerWeek *int   `db:"max_periods_per_week" json:"max_periods_per_week,omitempty"`
}

// RoomRef is the part of a room record the timetable consumes.
type RoomRef struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}

// SessionRef is the part of an academic-session record the timetable consumes.
type SessionRef struct {
	ID           string `db:"id" json:"id"`
	AcademicYear string `db:"academic_year" json:"academic_year"`
	Active       bool   `db:"is_active" json:"is_active"`
}

// ClassRef is the part of a class record the timetable consumes.
type ClassRef struct {
	ID       string `db:"id" json:"id"`
	SchoolID string `db:"school_id" json:"school_id"`
	Name     string `db:"name" json:"name"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
