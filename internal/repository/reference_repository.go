package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ReferenceRepository reads the teacher, room, session and class records the
// timetable core consumes but does not own. The owning admin service manages
// them; only the columns conflict and load checks need are selected here.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository constructs a ReferenceRepository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// FindTeacher loads a teacher lookup record.
func (r *ReferenceRepository) FindTeacher(ctx context.Context, id string) (*models.TeacherRef, error) {
	const query = `SELECT id, full_name, active, max_periods_per_week FROM teachers WHERE id = $1`
	var teacher models.TeacherRef
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// FindRoom loads a room lookup record.
func (r *ReferenceRepository) FindRoom(ctx context.Context, id string) (*models.RoomRef, error) {
	const query = `SELECT id, name, active FROM rooms WHERE id = $1`
	var room models.RoomRef
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}

// FindSession loads an academic-session lookup record.
func (r *ReferenceRepository) FindSession(ctx context.Context, id string) (*models.SessionRef, error) {
	const query = `SELECT id, academic_year, is_active FROM academic_sessions WHERE id = $1`
	var session models.SessionRef
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindClass loads a class lookup record.
func (r *ReferenceRepository) FindClass(ctx context.Context, id string) (*models.ClassRef, error) {
	const query = `SELECT id, school_id, name FROM classes WHERE id = $1`
	var class models.ClassRef
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// HasSection checks that a named section exists under a class.
func (r *ReferenceRepository) HasSection(ctx context.Context, classID, sectionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM class_sections WHERE class_id = $1 AND id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, classID, sectionID); err != nil {
		return false, fmt.Errorf("check section existence: %w", err)
	}
	return exists, nil
}
