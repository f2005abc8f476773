package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ConflictType names the dimension a detected violation belongs to.
type ConflictType string

const (
	ConflictTypeTeacher     ConflictType = "teacher_conflict"
	ConflictTypeRoom        ConflictType = "room_conflict"
	ConflictTypeClass       ConflictType = "class_conflict"
	ConflictTypeTeacherLoad ConflictType = "teacher_load_exceeded"
)

// ConflictSeverity grades how blocking a violation is.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// SeverityFor returns the severity assigned to a conflict type. Two lessons in
// one class slot is always critical; teacher and room double-booking is high;
// load overage is medium.
func SeverityFor(t ConflictType) ConflictSeverity {
	switch t {
	case ConflictTypeClass:
		return SeverityCritical
	case ConflictTypeTeacher, ConflictTypeRoom:
		return SeverityHigh
	case ConflictTypeTeacherLoad:
		return SeverityMedium
	}
	return SeverityLow
}

// ConflictRecord is one detected violation attached to a schedule entry.
type ConflictRecord struct {
	ID                 string           `json:"id"`
	Type               ConflictType     `json:"type"`
	Severity           ConflictSeverity `json:"severity"`
	ConflictingEntryID *string          `json:"conflicting_entry_id,omitempty"`
	Detail             string           `json:"detail,omitempty"`
	Resolved           bool             `json:"resolved"`
	ResolvedBy         *string          `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
	DetectedAt         time.Time        `json:"detected_at"`
}

// IdentityKey names the violation independent of detection order. Records with
// equal keys across detector runs describe the same violation, which is what
// lets a resolution survive re-detection.
func (r ConflictRecord) IdentityKey() string {
	if r.ConflictingEntryID != nil {
		return string(r.Type) + ":" + *r.ConflictingEntryID
	}
	return string(r.Type)
}

// ConflictList stores conflict records as a JSONB column.
type ConflictList []ConflictRecord

// Value marshals the list to JSON for persistence. A nil list persists as an
// empty array so a clean entry round-trips as clean.
func (l ConflictList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal conflict list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the list.
func (l *ConflictList) Scan(value interface{}) error {
	if value == nil {
		*l = ConflictList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ConflictList", value)
	}
	if len(data) == 0 {
		*l = ConflictList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal conflict list: %w", err)
	}
	return nil
}

// Unresolved returns the records still awaiting resolution.
func (l ConflictList) Unresolved() []ConflictRecord {
	var out []ConflictRecord
	for _, r := range l {
		if !r.Resolved {
			out = append(out, r)
		}
	}
	return out
}

// HasUnresolved reports whether any record is still awaiting resolution.
func (l ConflictList) HasUnresolved() bool {
	for _, r := range l {
		if !r.Resolved {
			return true
		}
	}
	return false
}

// FindByID returns the index of the record with the given id, or -1.
func (l ConflictList) FindByID(id string) int {
	for i, r := range l {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// EntryConflict pairs a schedule entry with one of its unresolved records so
// publish rejections can point at the offending slot.
type EntryConflict struct {
	EntryID   string         `json:"entry_id"`
	DayOfWeek Weekday        `json:"day_of_week"`
	Period    int            `json:"period_number"`
	Conflict  ConflictRecord `json:"conflict"`
}

// ConflictListError is returned when unresolved conflicts block a scope publish.
type ConflictListError struct {
	Type       string          `json:"type"`
	Message    string          `json:"message"`
	Scope      Scope           `json:"scope"`
	Violations []EntryConflict `json:"violations"`
}

// Error implements the error interface for publish rejections.
func (e *ConflictListError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
