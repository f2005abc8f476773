package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const entryColumns = `id, school_id, academic_session_id, class_id, section_id, subject_id, teacher_id, room_id, day_of_week, period_number, start_time, end_time, entry_type, is_break, status, conflicts, version, created_by, updated_by, published_by, published_at, created_at, updated_at`

// EntryRepository provides persistence for schedule entries.
type EntryRepository struct {
	db *sqlx.DB
}

// NewEntryRepository creates a new schedule entry repository.
func NewEntryRepository(db *sqlx.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create stores a new entry. The id, version and timestamps are assigned here;
// new entries always start in draft.
func (r *EntryRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = models.EntryStatusDraft
	}
	if entry.Conflicts == nil {
		entry.Conflicts = models.ConflictList{}
	}
	entry.Version = 1
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	const query = `INSERT INTO schedule_entries (id, school_id, academic_session_id, class_id, section_id, subject_id, teacher_id, room_id, day_of_week, period_number, start_time, end_time, entry_type, is_break, status, conflicts, version, created_by, created_at, updated_at) VALUES (:id, :school_id, :academic_session_id, :class_id, :section_id, :subject_id, :teacher_id, :room_id, :day_of_week, :period_number, :start_time, :end_time, :entry_type, :is_break, :status, :conflicts, :version, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("create schedule entry: %w", err)
	}
	return nil
}

// FindByID loads an entry by id. When exec is a transaction the read observes
// that transaction's uncommitted writes.
func (r *EntryRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE id = $1`, entryColumns)
	var entry models.ScheduleEntry
	if err := sqlx.GetContext(ctx, r.exec(exec), &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns entries with optional filtering and pagination.
func (r *EntryRepository) List(ctx context.Context, filter models.EntryFilter) ([]models.ScheduleEntry, int, error) {
	base := "FROM schedule_entries WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("academic_session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.SectionID != nil {
		conditions = append(conditions, fmt.Sprintf("section_id IS NOT DISTINCT FROM $%d", len(args)+1))
		args = append(args, sectionArg(filter.SectionID))
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.DayOfWeek != "" {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, filter.DayOfWeek)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "period_number"
	}
	allowedSorts := map[string]bool{
		"day_of_week":   true,
		"period_number": true,
		"start_time":    true,
		"status":        true,
		"created_at":    true,
		"updated_at":    true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "period_number"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", entryColumns, base, sortBy, order, size, offset)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule entries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule entries: %w", err)
	}

	return entries, total, nil
}

// Update rewrites an entry's mutable fields guarded by its version. Zero rows
// affected means the row was rewritten since it was read (or no longer
// exists); the caller maps that to a stale-write rejection.
func (r *EntryRepository) Update(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_entries SET class_id = :class_id, section_id = :section_id, subject_id = :subject_id, teacher_id = :teacher_id, room_id = :room_id, day_of_week = :day_of_week, period_number = :period_number, start_time = :start_time, end_time = :end_time, entry_type = :entry_type, is_break = :is_break, status = :status, conflicts = :conflicts, version = version + 1, updated_by = :updated_by, updated_at = :updated_at WHERE id = :id AND version = :version`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry)
	if err != nil {
		return fmt.Errorf("update schedule entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule entry rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	entry.Version++
	return nil
}

// ListForTeacher returns committed, non-break entries for a teacher on a day.
// Passing a transaction keeps the read consistent with its snapshot.
func (r *EntryRepository) ListForTeacher(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, teacherID string) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND day_of_week = $3 AND teacher_id = $4 AND status IN ('draft', 'published') AND is_break = FALSE ORDER BY start_time ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, schoolID, sessionID, day, teacherID); err != nil {
		return nil, fmt.Errorf("list entries for teacher: %w", err)
	}
	return entries, nil
}

// ListForRoom returns committed, non-break entries occupying a room on a day.
func (r *EntryRepository) ListForRoom(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, roomID string) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND day_of_week = $3 AND room_id = $4 AND status IN ('draft', 'published') AND is_break = FALSE ORDER BY start_time ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, schoolID, sessionID, day, roomID); err != nil {
		return nil, fmt.Errorf("list entries for room: %w", err)
	}
	return entries, nil
}

// ListForClass returns committed, non-break entries for a class section on a day.
func (r *EntryRepository) ListForClass(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, classID string, sectionID *string) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND day_of_week = $3 AND class_id = $4 AND section_id IS NOT DISTINCT FROM $5 AND status IN ('draft', 'published') AND is_break = FALSE ORDER BY start_time ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, schoolID, sessionID, day, classID, sectionArg(sectionID)); err != nil {
		return nil, fmt.Errorf("list entries for class: %w", err)
	}
	return entries, nil
}

// ListForTeacherSession returns every committed entry a teacher holds in a
// session, ordered for weekly timetable rendering and load accounting.
func (r *EntryRepository) ListForTeacherSession(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID, teacherID string) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND teacher_id = $3 AND status IN ('draft', 'published') ORDER BY day_of_week ASC, period_number ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, schoolID, sessionID, teacherID); err != nil {
		return nil, fmt.Errorf("list entries for teacher session: %w", err)
	}
	return entries, nil
}

// ListScope returns the committed entries of a publish scope.
func (r *EntryRepository) ListScope(ctx context.Context, scope models.Scope) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND class_id = $3 AND section_id IS NOT DISTINCT FROM $4 AND status IN ('draft', 'published') ORDER BY day_of_week ASC, period_number ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, scope.SchoolID, scope.SessionID, scope.ClassID, sectionArg(scope.SectionID)); err != nil {
		return nil, fmt.Errorf("list scope entries: %w", err)
	}
	return entries, nil
}

// ListScopeForUpdate loads the scope inside a transaction with row locks so a
// publish validates against a snapshot no concurrent editor can move.
func (r *EntryRepository) ListScopeForUpdate(ctx context.Context, tx *sqlx.Tx, scope models.Scope) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND class_id = $3 AND section_id IS NOT DISTINCT FROM $4 AND status IN ('draft', 'published') ORDER BY day_of_week ASC, period_number ASC FOR UPDATE`, entryColumns)
	var entries []models.ScheduleEntry
	if err := tx.SelectContext(ctx, &entries, query, scope.SchoolID, scope.SessionID, scope.ClassID, sectionArg(scope.SectionID)); err != nil {
		return nil, fmt.Errorf("lock scope entries: %w", err)
	}
	return entries, nil
}

// ExistsSlot reports whether a committed entry already occupies the exact
// day/period slot of the scope.
func (r *EntryRepository) ExistsSlot(ctx context.Context, scope models.Scope, day models.Weekday, period int, excludeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM schedule_entries WHERE school_id = $1 AND academic_session_id = $2 AND class_id = $3 AND section_id IS NOT DISTINCT FROM $4 AND day_of_week = $5 AND period_number = $6 AND status IN ('draft', 'published') AND id <> $7)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, scope.SchoolID, scope.SessionID, scope.ClassID, sectionArg(scope.SectionID), day, period, excludeID); err != nil {
		return false, fmt.Errorf("check slot occupancy: %w", err)
	}
	return exists, nil
}

// UpdateConflicts replaces an entry's conflict list guarded by its version.
// Used when mirroring records onto the counterpart of a detected violation.
func (r *EntryRepository) UpdateConflicts(ctx context.Context, exec sqlx.ExtContext, id string, version int, conflicts models.ConflictList) error {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE schedule_entries SET conflicts = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`, conflicts, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("update entry conflicts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry conflicts rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PublishEntry flips one locked row to published, stamping the actor and
// instant, guarded by the version read under the same transaction.
func (r *EntryRepository) PublishEntry(ctx context.Context, exec sqlx.ExtContext, id string, version int, actorID string, at time.Time) error {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE schedule_entries SET status = $1, published_by = $2, published_at = $3, version = version + 1, updated_at = $3 WHERE id = $4 AND version = $5`, models.EntryStatusPublished, actorID, at, id, version)
	if err != nil {
		return fmt.Errorf("publish entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("publish entry rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReopenScope drops every published entry of a scope back to draft, excluding
// the entry identified by excludeID so the caller can apply its own guarded
// update to that row. Publish stamps are kept as history of the last
// successful publish.
func (r *EntryRepository) ReopenScope(ctx context.Context, exec sqlx.ExtContext, scope models.Scope, actorID, excludeID string) (int, error) {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE schedule_entries SET status = $1, version = version + 1, updated_by = $2, updated_at = $3 WHERE school_id = $4 AND academic_session_id = $5 AND class_id = $6 AND section_id IS NOT DISTINCT FROM $7 AND status = $8 AND id <> $9`, models.EntryStatusDraft, actorID, time.Now().UTC(), scope.SchoolID, scope.SessionID, scope.ClassID, sectionArg(scope.SectionID), models.EntryStatusPublished, excludeID)
	if err != nil {
		return 0, fmt.Errorf("reopen scope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reopen scope rows affected: %w", err)
	}
	return int(affected), nil
}

// SetStatus performs an administrative transition (archive, cancel) guarded by
// the entry's version.
func (r *EntryRepository) SetStatus(ctx context.Context, exec sqlx.ExtContext, id string, version int, status models.EntryStatus, actorID string) error {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE schedule_entries SET status = $1, version = version + 1, updated_by = $2, updated_at = $3 WHERE id = $4 AND version = $5`, status, actorID, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set entry status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// sectionArg normalises an optional section id for IS NOT DISTINCT FROM
// comparisons: absent sections are stored as NULL.
func sectionArg(sectionID *string) interface{} {
	if sectionID == nil || *sectionID == "" {
		return nil
	}
	return *sectionID
}
