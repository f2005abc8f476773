package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

type entryRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ScheduleEntry, error)
	List(ctx context.Context, filter models.EntryFilter) ([]models.ScheduleEntry, int, error)
	Update(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error
	ListForTeacherSession(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID, teacherID string) ([]models.ScheduleEntry, error)
	ExistsSlot(ctx context.Context, scope models.Scope, day models.Weekday, period int, excludeID string) (bool, error)
	UpdateConflicts(ctx context.Context, exec sqlx.ExtContext, id string, version int, conflicts models.ConflictList) error
	ReopenScope(ctx context.Context, exec sqlx.ExtContext, scope models.Scope, actorID, excludeID string) (int, error)
	SetStatus(ctx context.Context, exec sqlx.ExtContext, id string, version int, status models.EntryStatus, actorID string) error
}

type referenceLookup interface {
	FindTeacher(ctx context.Context, id string) (*models.TeacherRef, error)
	FindRoom(ctx context.Context, id string) (*models.RoomRef, error)
	FindSession(ctx context.Context, id string) (*models.SessionRef, error)
	FindClass(ctx context.Context, id string) (*models.ClassRef, error)
	HasSection(ctx context.Context, classID, sectionID string) (bool, error)
}

type auditSink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type conflictFinder interface {
	Detect(ctx context.Context, exec sqlx.ExtContext, candidate *models.ScheduleEntry, excludeID string) ([]models.ConflictRecord, error)
}

type loadEvaluator interface {
	Evaluate(ctx context.Context, exec sqlx.ExtContext, candidate *models.ScheduleEntry) (*models.ConflictRecord, error)
	WeeklyLoad(ctx context.Context, schoolID, sessionID, teacherID string) (*models.TeacherLoad, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// CreateEntryRequest describes payload for creating a schedule entry.
type CreateEntryRequest struct {
	SchoolID     string  `json:"school_id" validate:"required"`
	SessionID    string  `json:"academic_session_id" validate:"required"`
	ClassID      string  `json:"class_id" validate:"required"`
	SectionID    *string `json:"section_id"`
	SubjectID    string  `json:"subject_id" validate:"required"`
	TeacherID    string  `json:"teacher_id" validate:"required"`
	RoomID       *string `json:"room_id"`
	DayOfWeek    string  `json:"day_of_week" validate:"required,weekday"`
	PeriodNumber int     `json:"period_number" validate:"required,min=1"`
	StartTime    string  `json:"start_time" validate:"required,clock"`
	EndTime      string  `json:"end_time" validate:"required,clock"`
	EntryType    string  `json:"entry_type" validate:"omitempty,oneof=regular exam special substitute"`
	IsBreak      bool    `json:"is_break"`
}

func (r CreateEntryRequest) toEntry(actorID string) *models.ScheduleEntry {
	entryType := models.EntryType(r.EntryType)
	if entryType == "" {
		entryType = models.EntryTypeRegular
	}
	return &models.ScheduleEntry{
		SchoolID:     r.SchoolID,
		SessionID:    r.SessionID,
		ClassID:      r.ClassID,
		SectionID:    normalizeOptionalID(r.SectionID),
		SubjectID:    r.SubjectID,
		TeacherID:    r.TeacherID,
		RoomID:       normalizeOptionalID(r.RoomID),
		DayOfWeek:    models.Weekday(strings.ToLower(r.DayOfWeek)),
		PeriodNumber: r.PeriodNumber,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		EntryType:    entryType,
		IsBreak:      r.IsBreak,
		Status:       models.EntryStatusDraft,
		CreatedBy:    actorID,
	}
}

// UpdateEntryRequest patches an existing entry. Absent fields stay untouched;
// section_id and room_id may be cleared by sending an empty string. School,
// session and class are fixed at creation. The version must match the stored
// entry for the write to apply.
type UpdateEntryRequest struct {
	SectionID    *string `json:"section_id"`
	SubjectID    *string `json:"subject_id"`
	TeacherID    *string `json:"teacher_id"`
	RoomID       *string `json:"room_id"`
	DayOfWeek    *string `json:"day_of_week" validate:"omitempty,weekday"`
	PeriodNumber *int    `json:"period_number" validate:"omitempty,min=1"`
	StartTime    *string `json:"start_time" validate:"omitempty,clock"`
	EndTime      *string `json:"end_time" validate:"omitempty,clock"`
	EntryType    *string `json:"entry_type" validate:"omitempty,oneof=regular exam special substitute"`
	IsBreak      *bool   `json:"is_break"`
	Version      int     `json:"version" validate:"required,min=1"`
}

func (r UpdateEntryRequest) apply(entry *models.ScheduleEntry) {
	if r.SectionID != nil {
		entry.SectionID = normalizeOptionalID(r.SectionID)
	}
	if r.SubjectID != nil {
		entry.SubjectID = *r.SubjectID
	}
	if r.TeacherID != nil {
		entry.TeacherID = *r.TeacherID
	}
	if r.RoomID != nil {
		entry.RoomID = normalizeOptionalID(r.RoomID)
	}
	if r.DayOfWeek != nil {
		entry.DayOfWeek = models.Weekday(strings.ToLower(*r.DayOfWeek))
	}
	if r.PeriodNumber != nil {
		entry.PeriodNumber = *r.PeriodNumber
	}
	if r.StartTime != nil {
		entry.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		entry.EndTime = *r.EndTime
	}
	if r.EntryType != nil {
		entry.EntryType = models.EntryType(*r.EntryType)
	}
	if r.IsBreak != nil {
		entry.IsBreak = *r.IsBreak
	}
}

// CheckConflictsRequest previews conflicts for a hypothetical placement
// without persisting anything. ExcludeEntryID skips an existing entry so a
// planned modification is not reported as conflicting with itself.
type CheckConflictsRequest struct {
	SchoolID       string  `json:"school_id" validate:"required"`
	SessionID      string  `json:"academic_session_id" validate:"required"`
	ClassID        string  `json:"class_id" validate:"required"`
	SectionID      *string `json:"section_id"`
	SubjectID      string  `json:"subject_id" validate:"required"`
	TeacherID      string  `json:"teacher_id" validate:"required"`
	RoomID         *string `json:"room_id"`
	DayOfWeek      string  `json:"day_of_week" validate:"required,weekday"`
	PeriodNumber   int     `json:"period_number" validate:"required,min=1"`
	StartTime      string  `json:"start_time" validate:"required,clock"`
	EndTime        string  `json:"end_time" validate:"required,clock"`
	EntryType      string  `json:"entry_type" validate:"omitempty,oneof=regular exam special substitute"`
	IsBreak        bool    `json:"is_break"`
	ExcludeEntryID string  `json:"exclude_entry_id"`
}

// ConflictCheckResult summarises a conflict preview.
type ConflictCheckResult struct {
	Conflicts    []models.ConflictRecord `json:"conflicts"`
	SlotOccupied bool                    `json:"slot_occupied"`
	CheckedAt    time.Time               `json:"checked_at"`
}

// EntryService coordinates the lifecycle of schedule entries: validation,
// conflict detection, optimistic writes and mirror bookkeeping on
// counterpart entries.
type EntryService struct {
	repo      entryRepository
	refs      referenceLookup
	detector  conflictFinder
	loads     loadEvaluator
	tx        txProvider
	audit     auditSink
	locks     lock.Locker
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	maxPeriod int
}

// EntryServiceOption customises optional collaborators.
type EntryServiceOption func(*EntryService)

// WithEntryAudit wires an audit sink.
func WithEntryAudit(audit auditSink) EntryServiceOption {
	return func(s *EntryService) { s.audit = audit }
}

// WithEntryLocks overrides the resource locker.
func WithEntryLocks(locks lock.Locker) EntryServiceOption {
	return func(s *EntryService) { s.locks = locks }
}

// WithEntryCache wires cached timetable view invalidation.
func WithEntryCache(cache *CacheService) EntryServiceOption {
	return func(s *EntryService) { s.cache = cache }
}

// WithEntryMetrics wires instrumentation.
func WithEntryMetrics(metrics *MetricsService) EntryServiceOption {
	return func(s *EntryService) { s.metrics = metrics }
}

// WithEntryValidator overrides the payload validator.
func WithEntryValidator(v *validator.Validate) EntryServiceOption {
	return func(s *EntryService) { s.validator = v }
}

// WithEntryLogger overrides the logger.
func WithEntryLogger(logger *zap.Logger) EntryServiceOption {
	return func(s *EntryService) { s.logger = logger }
}

// WithMaxPeriodNumber sets the highest allowed period number.
func WithMaxPeriodNumber(max int) EntryServiceOption {
	return func(s *EntryService) {
		if max > 0 {
			s.maxPeriod = max
		}
	}
}

// NewEntryService instantiates EntryService.
func NewEntryService(repo entryRepository, refs referenceLookup, detector conflictFinder, loads loadEvaluator, tx txProvider, opts ...EntryServiceOption) *EntryService {
	s := &EntryService{repo: repo, refs: refs, detector: detector, loads: loads, tx: tx, maxPeriod: 10}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validator.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.locks == nil {
		s.locks = lock.NewMemoryLocker()
	}
	registerTimetableValidators(s.validator)
	return s
}

func registerTimetableValidators(v *validator.Validate) {
	v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return models.Weekday(strings.ToLower(fl.Field().String())).Valid()
	})
	v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := models.ClockMinutes(fl.Field().String())
		return err == nil
	})
}

// CreateEntry validates, detects conflicts and persists a new draft entry.
// Conflicts do not block creation; they are recorded on the entry and
// mirrored onto the counterpart entries they implicate.
func (s *EntryService) CreateEntry(ctx context.Context, actorID string, req CreateEntryRequest) (*models.ScheduleEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule entry payload")
	}

	entry := req.toEntry(actorID)
	if err := s.validatePlacement(entry); err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, entry); err != nil {
		return nil, err
	}

	release, err := s.acquireLocks(ctx, resourceLockKeys(entry)...)
	if err != nil {
		return nil, err
	}
	defer release()

	occupied, err := s.repo.ExistsSlot(ctx, entry.Scope(), entry.DayOfWeek, entry.PeriodNumber, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot availability")
	}
	if occupied {
		return nil, appErrors.Clone(appErrors.ErrDuplicateSchedule, fmt.Sprintf("period %d on %s is already scheduled for this class", entry.PeriodNumber, entry.DayOfWeek))
	}

	records, err := s.evaluate(ctx, nil, entry, "")
	if err != nil {
		return nil, err
	}
	entry.Conflicts = models.ConflictList(records)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Create(ctx, tx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule entry")
	}
	touched, err := s.syncCounterparts(ctx, tx, entry, nil, entry.Conflicts, actorID)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule entry")
	}

	s.invalidateViews(ctx, append([]*models.ScheduleEntry{entry}, touched...)...)
	s.emitAudit(ctx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionEntryCreate,
		Resource:   "schedule_entries",
		ResourceID: &entry.ID,
		NewValues:  auditSnapshot(entry),
	})
	return entry, nil
}

// GetEntry loads one entry by id.
func (s *EntryService) GetEntry(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	entry, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule entry")
	}
	return entry, nil
}

// ListEntries returns entries with pagination metadata.
func (s *EntryService) ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.ScheduleEntry, *models.Pagination, error) {
	filter.DayOfWeek = strings.ToLower(filter.DayOfWeek)
	filter.Status = strings.ToLower(filter.Status)
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedule entries")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return entries, pagination, nil
}

// UpdateEntry applies a versioned patch. Editing a published entry drops it
// and the rest of its publish scope back to draft; conflict resolutions
// carry over when the violation is unchanged.
func (s *EntryService) UpdateEntry(ctx context.Context, actorID, id string, req UpdateEntryRequest) (*models.ScheduleEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule entry payload")
	}

	existing, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule entry")
	}
	if !existing.Status.Committed() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot modify a %s entry", existing.Status))
	}
	if req.Version != existing.Version {
		return nil, appErrors.Clone(appErrors.ErrStaleWrite, "")
	}

	candidate := *existing
	req.apply(&candidate)
	candidate.UpdatedBy = &actorID
	if err := s.validatePlacement(&candidate); err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, &candidate); err != nil {
		return nil, err
	}

	keys := append(resourceLockKeys(existing), resourceLockKeys(&candidate)...)
	release, err := s.acquireLocks(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	occupied, err := s.repo.ExistsSlot(ctx, candidate.Scope(), candidate.DayOfWeek, candidate.PeriodNumber, candidate.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot availability")
	}
	if occupied {
		return nil, appErrors.Clone(appErrors.ErrDuplicateSchedule, fmt.Sprintf("period %d on %s is already scheduled for this class", candidate.PeriodNumber, candidate.DayOfWeek))
	}

	records, err := s.evaluate(ctx, nil, &candidate, "")
	if err != nil {
		return nil, err
	}
	candidate.Conflicts = CarryResolutions(existing.Conflicts, records)

	wasPublished := existing.Status == models.EntryStatusPublished
	if wasPublished {
		candidate.Status = models.EntryStatusDraft
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.Update(ctx, tx, &candidate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrStaleWrite, "")
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule entry")
	}
	if wasPublished {
		if _, err = s.repo.ReopenScope(ctx, tx, existing.Scope(), actorID, candidate.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen publish scope")
		}
	}
	touched, err := s.syncCounterparts(ctx, tx, &candidate, existing.Conflicts, candidate.Conflicts, actorID)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule entry")
	}

	s.invalidateViews(ctx, append([]*models.ScheduleEntry{&candidate, existing}, touched...)...)
	s.emitAudit(ctx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionEntryUpdate,
		Resource:   "schedule_entries",
		ResourceID: &candidate.ID,
		OldValues:  auditSnapshot(existing),
		NewValues:  auditSnapshot(&candidate),
	})
	return &candidate, nil
}

// CancelEntry takes an entry out of the timetable, freeing its slot for
// conflict purposes. The entry's own conflict history is retained.
func (s *EntryService) CancelEntry(ctx context.Context, actorID, id string) (*models.ScheduleEntry, error) {
	return s.retire(ctx, actorID, id, models.EntryStatusCancelled, models.AuditActionEntryCancel)
}

// ArchiveEntry retires an entry permanently, for example at session end.
func (s *EntryService) ArchiveEntry(ctx context.Context, actorID, id string) (*models.ScheduleEntry, error) {
	return s.retire(ctx, actorID, id, models.EntryStatusArchived, models.AuditActionEntryArchive)
}

func (s *EntryService) retire(ctx context.Context, actorID, id string, target models.EntryStatus, action string) (*models.ScheduleEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	entry, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule entry")
	}
	if !entry.Status.CanTransitionTo(target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move a %s entry to %s", entry.Status, target))
	}

	release, err := s.acquireLocks(ctx, resourceLockKeys(entry)...)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.repo.SetStatus(ctx, tx, entry.ID, entry.Version, target, actorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrStaleWrite, "")
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update entry status")
	}
	touched, err := s.syncCounterparts(ctx, tx, entry, entry.Conflicts, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit entry status")
	}

	previous := entry.Status
	entry.Status = target
	entry.Version++
	entry.UpdatedBy = &actorID

	s.invalidateViews(ctx, append([]*models.ScheduleEntry{entry}, touched...)...)
	s.emitAudit(ctx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     action,
		Resource:   "schedule_entries",
		ResourceID: &entry.ID,
		OldValues:  auditSnapshot(map[string]interface{}{"status": previous}),
		NewValues:  auditSnapshot(map[string]interface{}{"status": target}),
	})
	return entry, nil
}

// ResolveConflict marks one conflict record on an entry as resolved. The
// mirror record on the counterpart entry is untouched: each side signs off
// on its own violations.
func (s *EntryService) ResolveConflict(ctx context.Context, actorID, entryID, conflictID string) (*models.ScheduleEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	entry, err := s.repo.FindByID(ctx, nil, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule entry")
	}

	idx := entry.Conflicts.FindByID(conflictID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "conflict record not found")
	}
	if entry.Conflicts[idx].Resolved {
		return entry, nil
	}

	now := time.Now().UTC()
	entry.Conflicts[idx].Resolved = true
	entry.Conflicts[idx].ResolvedBy = &actorID
	entry.Conflicts[idx].ResolvedAt = &now

	if err := s.repo.UpdateConflicts(ctx, nil, entry.ID, entry.Version, entry.Conflicts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStaleWrite, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist conflict resolution")
	}
	entry.Version++
	entry.UpdatedAt = now

	s.invalidateViews(ctx, entry)
	s.emitAudit(ctx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionConflictResolve,
		Resource:   "schedule_entries",
		ResourceID: &entry.ID,
		NewValues:  auditSnapshot(entry.Conflicts[idx]),
	})
	return entry, nil
}

// CheckConflicts previews the conflicts a placement would produce. Nothing
// is persisted and no locks are taken.
func (s *EntryService) CheckConflicts(ctx context.Context, req CheckConflictsRequest) (*ConflictCheckResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict check payload")
	}
	create := CreateEntryRequest{
		SchoolID:     req.SchoolID,
		SessionID:    req.SessionID,
		ClassID:      req.ClassID,
		SectionID:    req.SectionID,
		SubjectID:    req.SubjectID,
		TeacherID:    req.TeacherID,
		RoomID:       req.RoomID,
		DayOfWeek:    req.DayOfWeek,
		PeriodNumber: req.PeriodNumber,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		EntryType:    req.EntryType,
		IsBreak:      req.IsBreak,
	}
	entry := create.toEntry("")
	if err := s.validatePlacement(entry); err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, entry); err != nil {
		return nil, err
	}

	occupied, err := s.repo.ExistsSlot(ctx, entry.Scope(), entry.DayOfWeek, entry.PeriodNumber, req.ExcludeEntryID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot availability")
	}
	records, err := s.evaluate(ctx, nil, entry, req.ExcludeEntryID)
	if err != nil {
		return nil, err
	}
	return &ConflictCheckResult{Conflicts: records, SlotOccupied: occupied, CheckedAt: time.Now().UTC()}, nil
}

// TeacherTimetable returns a teacher's committed entries for a session,
// ordered by day and period. The second return reports a cache hit.
func (s *EntryService) TeacherTimetable(ctx context.Context, schoolID, sessionID, teacherID string) ([]models.ScheduleEntry, bool, error) {
	if _, err := s.refs.FindTeacher(ctx, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	cacheKey := TeacherCacheKey(schoolID, sessionID, teacherID) + ":timetable"
	var cached []models.ScheduleEntry
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	entries, err := s.repo.ListForTeacherSession(ctx, nil, schoolID, sessionID, teacherID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teacher timetable")
	}
	sort.Slice(entries, func(i, j int) bool {
		if d := entries[i].DayOfWeek.Index() - entries[j].DayOfWeek.Index(); d != 0 {
			return d < 0
		}
		if entries[i].PeriodNumber != entries[j].PeriodNumber {
			return entries[i].PeriodNumber < entries[j].PeriodNumber
		}
		return entries[i].StartTime < entries[j].StartTime
	})

	_ = s.cache.Set(ctx, cacheKey, entries, 0)
	return entries, false, nil
}

// TeacherLoadReport returns a teacher's committed weekly periods against
// their ceiling. The second return reports a cache hit.
func (s *EntryService) TeacherLoadReport(ctx context.Context, schoolID, sessionID, teacherID string) (*models.TeacherLoad, bool, error) {
	if _, err := s.refs.FindTeacher(ctx, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	cacheKey := TeacherCacheKey(schoolID, sessionID, teacherID) + ":load"
	var cached models.TeacherLoad
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	load, err := s.loads.WeeklyLoad(ctx, schoolID, sessionID, teacherID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute teacher load")
	}
	_ = s.cache.Set(ctx, cacheKey, load, 0)
	return load, false, nil
}

// evaluate runs overlap detection and the teacher load check for a candidate
// placement.
func (s *EntryService) evaluate(ctx context.Context, exec sqlx.ExtContext, candidate *models.ScheduleEntry, excludeID string) ([]models.ConflictRecord, error) {
	start := time.Now()
	records, err := s.detector.Detect(ctx, exec, candidate, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to detect schedule conflicts")
	}
	loadRecord, err := s.loads.Evaluate(ctx, exec, candidate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate teacher load")
	}
	if loadRecord != nil {
		records = append(records, *loadRecord)
	}
	if records == nil {
		records = []models.ConflictRecord{}
	}
	s.metrics.ObserveConflictCheck(time.Since(start), records)
	return records, nil
}

// syncCounterparts reconciles mirror records on the entries implicated by a
// change to entry's conflict list: stale mirrors pointing back at entry are
// dropped, missing ones are added. A published counterpart that gains a
// fresh violation drags its publish scope back to draft.
func (s *EntryService) syncCounterparts(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry, previous, current models.ConflictList, actorID string) ([]*models.ScheduleEntry, error) {
	wanted := make(map[string][]models.ConflictRecord)
	for _, rec := range current {
		if rec.ConflictingEntryID == nil {
			continue
		}
		wanted[*rec.ConflictingEntryID] = append(wanted[*rec.ConflictingEntryID], rec)
	}
	ids := make(map[string]bool, len(wanted))
	for id := range wanted {
		ids[id] = true
	}
	for _, rec := range previous {
		if rec.ConflictingEntryID != nil {
			ids[*rec.ConflictingEntryID] = true
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	var touched []*models.ScheduleEntry
	for _, counterpartID := range ordered {
		cp, err := s.syncCounterpart(ctx, exec, entry, counterpartID, wanted[counterpartID], actorID)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			touched = append(touched, cp)
		}
	}
	return touched, nil
}

func (s *EntryService) syncCounterpart(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry, counterpartID string, want []models.ConflictRecord, actorID string) (*models.ScheduleEntry, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cp, err := s.repo.FindByID(ctx, exec, counterpartID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflicting entry")
		}

		next, gained, changed := reconcileMirrors(cp, entry, want)
		if !changed {
			return nil, nil
		}

		err = s.repo.UpdateConflicts(ctx, exec, cp.ID, cp.Version, next)
		if err == nil {
			if gained && cp.Status == models.EntryStatusPublished {
				if _, err := s.repo.ReopenScope(ctx, exec, cp.Scope(), actorID, ""); err != nil {
					return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen counterpart scope")
				}
			}
			cp.Conflicts = next
			return cp, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update conflicting entry")
		}
		// version moved under us, re-read once
	}
	return nil, appErrors.Clone(appErrors.ErrStaleWrite, "conflicting entry changed concurrently")
}

// reconcileMirrors computes the counterpart's next conflict list: mirrors
// pointing at entry whose violation no longer holds are dropped, missing
// mirrors are appended. gained reports whether a new violation appeared.
func reconcileMirrors(cp, entry *models.ScheduleEntry, want []models.ConflictRecord) (models.ConflictList, bool, bool) {
	wantTypes := make(map[models.ConflictType]bool, len(want))
	for _, rec := range want {
		wantTypes[rec.Type] = true
	}

	next := make(models.ConflictList, 0, len(cp.Conflicts)+len(want))
	haveTypes := make(map[models.ConflictType]bool)
	changed := false
	for _, rec := range cp.Conflicts {
		if rec.ConflictingEntryID != nil && *rec.ConflictingEntryID == entry.ID {
			if !wantTypes[rec.Type] {
				changed = true
				continue
			}
			haveTypes[rec.Type] = true
		}
		next = append(next, rec)
	}

	gained := false
	for _, rec := range want {
		if haveTypes[rec.Type] {
			continue
		}
		next = append(next, ReciprocalRecord(rec, entry))
		changed = true
		gained = true
	}
	return next, gained, changed
}

func (s *EntryService) validatePlacement(entry *models.ScheduleEntry) error {
	start, end, err := entry.Interval()
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "start_time and end_time must use HH:MM format")
	}
	if start >= end {
		return appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}
	if entry.PeriodNumber < 1 || entry.PeriodNumber > s.maxPeriod {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("period_number must be between 1 and %d", s.maxPeriod))
	}
	return nil
}

func (s *EntryService) validateReferences(ctx context.Context, entry *models.ScheduleEntry) error {
	session, err := s.refs.FindSession(ctx, entry.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "academic session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic session")
	}
	if !session.Active {
		return appErrors.Clone(appErrors.ErrInactiveResource, "academic session is not active")
	}

	class, err := s.refs.FindClass(ctx, entry.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.SchoolID != entry.SchoolID {
		return appErrors.Clone(appErrors.ErrValidation, "class does not belong to the school")
	}
	if entry.SectionID != nil {
		ok, err := s.refs.HasSection(ctx, entry.ClassID, *entry.SectionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify class section")
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, "section not found for class")
		}
	}

	teacher, err := s.refs.FindTeacher(ctx, entry.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.Active {
		return appErrors.Clone(appErrors.ErrInactiveResource, "teacher is not active")
	}

	if entry.RoomID != nil {
		room, err := s.refs.FindRoom(ctx, *entry.RoomID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "room not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
		}
		if !room.Active {
			return appErrors.Clone(appErrors.ErrInactiveResource, "room is not active")
		}
	}
	return nil
}

// resourceLockKeys names the per-day resource slots an entry occupies, used
// to serialise concurrent writes touching the same teacher, room or class.
func resourceLockKeys(entry *models.ScheduleEntry) []string {
	day := string(entry.DayOfWeek)
	section := ""
	if entry.SectionID != nil {
		section = *entry.SectionID
	}
	keys := []string{
		fmt.Sprintf("teacher:%s:%s:%s:%s", entry.SchoolID, entry.SessionID, day, entry.TeacherID),
		fmt.Sprintf("class:%s:%s:%s:%s:%s", entry.SchoolID, entry.SessionID, day, entry.ClassID, section),
	}
	if entry.RoomID != nil && *entry.RoomID != "" {
		keys = append(keys, fmt.Sprintf("room:%s:%s:%s:%s", entry.SchoolID, entry.SessionID, day, *entry.RoomID))
	}
	return keys
}

func (s *EntryService) acquireLocks(ctx context.Context, keys ...string) (func(), error) {
	start := time.Now()
	release, err := s.locks.Acquire(ctx, keys...)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, err
	}
	return release, nil
}

// invalidateViews drops cached timetable views for every scope and teacher
// the given entries touch.
func (s *EntryService) invalidateViews(ctx context.Context, entries ...*models.ScheduleEntry) {
	if !s.cache.Enabled() {
		return
	}
	scopes := make(map[string]models.Scope)
	teachers := make(map[string][3]string)
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		scope := entry.Scope()
		scopes[scope.Key()] = scope
		teachers[entry.SchoolID+":"+entry.SessionID+":"+entry.TeacherID] = [3]string{entry.SchoolID, entry.SessionID, entry.TeacherID}
	}
	for _, scope := range scopes {
		_ = s.cache.InvalidateScope(ctx, scope)
	}
	for _, t := range teachers {
		_ = s.cache.InvalidateTeacher(ctx, t[0], t[1], t[2])
	}
}

func (s *EntryService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "timetable-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func auditSnapshot(value interface{}) []byte {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}

func normalizeOptionalID(value *string) *string {
	if value == nil {
		return nil
	}
	id := strings.TrimSpace(*value)
	if id == "" {
		return nil
	}
	return &id
}
