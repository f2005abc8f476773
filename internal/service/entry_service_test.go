package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

func TestEntryServiceCreateEntry(t *testing.T) {
	f := newEntryFixture(t)
	f.expectTx()

	entry, err := f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10A", "teacher-1", 1, "07:30", "08:15"))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.EntryStatusDraft, entry.Status)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, "admin-1", entry.CreatedBy)
	assert.NotNil(t, entry.Conflicts)
	assert.Empty(t, entry.Conflicts)

	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionEntryCreate, f.audit.logs[0].Action)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceCreateRequiresActor(t *testing.T) {
	f := newEntryFixture(t)

	_, err := f.svc.CreateEntry(context.Background(), "  ", createRequest("10A", "teacher-1", 1, "07:30", "08:15"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceCreateRejectsUnknownDay(t *testing.T) {
	f := newEntryFixture(t)

	req := createRequest("10A", "teacher-1", 1, "07:30", "08:15")
	req.DayOfWeek = "funday"
	_, err := f.svc.CreateEntry(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceCreateRejectsBadClock(t *testing.T) {
	f := newEntryFixture(t)

	req := createRequest("10A", "teacher-1", 1, "7:30", "08:15")
	_, err := f.svc.CreateEntry(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceCreateRejectsInvertedInterval(t *testing.T) {
	f := newEntryFixture(t)

	req := createRequest("10A", "teacher-1", 1, "09:00", "08:15")
	_, err := f.svc.CreateEntry(context.Background(), "admin-1", req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "before end_time")
}

func TestEntryServiceCreateRejectsPeriodBeyondMax(t *testing.T) {
	f := newEntryFixture(t, WithMaxPeriodNumber(4))

	req := createRequest("10A", "teacher-1", 5, "07:30", "08:15")
	_, err := f.svc.CreateEntry(context.Background(), "admin-1", req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "between 1 and 4")
}

func TestEntryServiceCreateRejectsOccupiedSlot(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-2", 1, "07:30", "08:15", models.EntryStatusDraft))

	_, err := f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10A", "teacher-1", 1, "08:15", "09:00"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateSchedule.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.store.entries, 1)
}

func TestEntryServiceCreateRejectsInactiveSession(t *testing.T) {
	f := newEntryFixture(t)
	f.refs.sessions["session-closed"] = &models.SessionRef{ID: "session-closed", AcademicYear: "2024/2025", Active: false}

	req := createRequest("10A", "teacher-1", 1, "07:30", "08:15")
	req.SessionID = "session-closed"
	_, err := f.svc.CreateEntry(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveResource.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceCreateRejectsUnknownTeacher(t *testing.T) {
	f := newEntryFixture(t)

	req := createRequest("10A", "teacher-404", 1, "07:30", "08:15")
	_, err := f.svc.CreateEntry(context.Background(), "admin-1", req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "teacher not found")
}

func TestEntryServiceCreateRecordsConflictOnBothSides(t *testing.T) {
	f := newEntryFixture(t)
	f.expectTx()
	first, err := f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10A", "teacher-1", 1, "07:30", "08:15"))
	require.NoError(t, err)

	f.expectTx()
	second, err := f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10B", "teacher-1", 1, "08:00", "08:45"))
	require.NoError(t, err)

	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, models.ConflictTypeTeacher, second.Conflicts[0].Type)
	require.NotNil(t, second.Conflicts[0].ConflictingEntryID)
	assert.Equal(t, first.ID, *second.Conflicts[0].ConflictingEntryID)

	counterpart := f.store.entries[first.ID]
	require.Len(t, counterpart.Conflicts, 1)
	assert.Equal(t, models.ConflictTypeTeacher, counterpart.Conflicts[0].Type)
	require.NotNil(t, counterpart.Conflicts[0].ConflictingEntryID)
	assert.Equal(t, second.ID, *counterpart.Conflicts[0].ConflictingEntryID)
	assert.Equal(t, 2, counterpart.Version)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceUpdateRejectsStaleVersion(t *testing.T) {
	f := newEntryFixture(t)
	seeded := fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft)
	seeded.Version = 3
	f.seed(seeded)

	period := 2
	_, err := f.svc.UpdateEntry(context.Background(), "admin-1", "entry-1", UpdateEntryRequest{PeriodNumber: &period, Version: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStaleWrite.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceUpdateAppliesPatch(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft))
	f.expectTx()

	period := 2
	start, end := "08:15", "09:00"
	updated, err := f.svc.UpdateEntry(context.Background(), "admin-2", "entry-1", UpdateEntryRequest{
		PeriodNumber: &period,
		StartTime:    &start,
		EndTime:      &end,
		Version:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.PeriodNumber)
	assert.Equal(t, "08:15", updated.StartTime)
	assert.Equal(t, 2, updated.Version)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "admin-2", *updated.UpdatedBy)

	stored := f.store.entries["entry-1"]
	assert.Equal(t, 2, stored.PeriodNumber)
	assert.Equal(t, 2, stored.Version)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceUpdateRejectsRetiredEntry(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusCancelled))

	period := 2
	_, err := f.svc.UpdateEntry(context.Background(), "admin-1", "entry-1", UpdateEntryRequest{PeriodNumber: &period, Version: 1})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "cancelled")
}

func TestEntryServiceUpdateReopensPublishedScope(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(publishedEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15"))
	f.seed(publishedEntry("entry-2", "10A", "teacher-2", 2, "08:15", "09:00"))
	f.expectTx()

	start, end := "09:00", "09:45"
	period := 3
	updated, err := f.svc.UpdateEntry(context.Background(), "admin-1", "entry-1", UpdateEntryRequest{
		PeriodNumber: &period,
		StartTime:    &start,
		EndTime:      &end,
		Version:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusDraft, updated.Status)

	assert.Equal(t, models.EntryStatusDraft, f.store.entries["entry-1"].Status)
	assert.Equal(t, 2, f.store.entries["entry-1"].Version)
	assert.Equal(t, models.EntryStatusDraft, f.store.entries["entry-2"].Status)
	assert.Equal(t, 2, f.store.entries["entry-2"].Version)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceUpdateClearsCounterpartMirror(t *testing.T) {
	f := newEntryFixture(t)
	f.expectTx()
	first, err := f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10A", "teacher-1", 1, "07:30", "08:15"))
	require.NoError(t, err)
	f.expectTx()
	second, err := f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10B", "teacher-1", 1, "08:00", "08:45"))
	require.NoError(t, err)
	require.Len(t, f.store.entries[first.ID].Conflicts, 1)

	f.expectTx()
	start, end := "10:00", "10:45"
	moved, err := f.svc.UpdateEntry(context.Background(), "admin-1", second.ID, UpdateEntryRequest{
		StartTime: &start,
		EndTime:   &end,
		Version:   second.Version,
	})
	require.NoError(t, err)
	assert.Empty(t, moved.Conflicts)
	assert.Empty(t, f.store.entries[first.ID].Conflicts)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceCancelFreesSlot(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft))
	f.expectTx()

	cancelled, err := f.svc.CancelEntry(context.Background(), "admin-1", "entry-1")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusCancelled, cancelled.Status)
	assert.Equal(t, 2, cancelled.Version)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionEntryCancel, f.audit.logs[0].Action)

	check, err := f.svc.CheckConflicts(context.Background(), checkRequest("10A", "teacher-2", 1, "07:30", "08:15"))
	require.NoError(t, err)
	assert.False(t, check.SlotOccupied)
	assert.Empty(t, check.Conflicts)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceCancelTwiceRejected(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusCancelled))

	_, err := f.svc.CancelEntry(context.Background(), "admin-1", "entry-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceArchivePublishedEntry(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(publishedEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15"))
	f.expectTx()

	archived, err := f.svc.ArchiveEntry(context.Background(), "admin-1", "entry-1")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusArchived, archived.Status)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionEntryArchive, f.audit.logs[0].Action)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceResolveConflictMarksRecord(t *testing.T) {
	f := newEntryFixture(t)
	counterpartID := "entry-9"
	seeded := fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft)
	seeded.Conflicts = models.ConflictList{{
		ID:                 "conflict-1",
		Type:               models.ConflictTypeTeacher,
		Severity:           models.SeverityHigh,
		ConflictingEntryID: &counterpartID,
		DetectedAt:         time.Now().UTC(),
	}}
	f.seed(seeded)

	resolved, err := f.svc.ResolveConflict(context.Background(), "admin-1", "entry-1", "conflict-1")
	require.NoError(t, err)
	require.Len(t, resolved.Conflicts, 1)
	assert.True(t, resolved.Conflicts[0].Resolved)
	require.NotNil(t, resolved.Conflicts[0].ResolvedBy)
	assert.Equal(t, "admin-1", *resolved.Conflicts[0].ResolvedBy)
	assert.Equal(t, 2, resolved.Version)

	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionConflictResolve, f.audit.logs[0].Action)
}

func TestEntryServiceResolveConflictIsIdempotent(t *testing.T) {
	f := newEntryFixture(t)
	resolvedBy := "admin-0"
	seeded := fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft)
	seeded.Conflicts = models.ConflictList{{
		ID:         "conflict-1",
		Type:       models.ConflictTypeTeacher,
		Resolved:   true,
		ResolvedBy: &resolvedBy,
	}}
	f.seed(seeded)

	entry, err := f.svc.ResolveConflict(context.Background(), "admin-1", "entry-1", "conflict-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version)
	require.NotNil(t, entry.Conflicts[0].ResolvedBy)
	assert.Equal(t, "admin-0", *entry.Conflicts[0].ResolvedBy)
	assert.Empty(t, f.audit.logs)
}

func TestEntryServiceResolveUnknownRecord(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft))

	_, err := f.svc.ResolveConflict(context.Background(), "admin-1", "entry-1", "conflict-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceCheckConflictsDoesNotPersist(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft))

	result, err := f.svc.CheckConflicts(context.Background(), checkRequest("10B", "teacher-1", 1, "08:00", "08:45"))
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictTypeTeacher, result.Conflicts[0].Type)
	assert.False(t, result.SlotOccupied)
	assert.False(t, result.CheckedAt.IsZero())

	assert.Len(t, f.store.entries, 1)
	assert.Empty(t, f.store.entries["entry-1"].Conflicts)
}

func TestEntryServiceCheckConflictsReportsOccupiedSlot(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft))

	result, err := f.svc.CheckConflicts(context.Background(), checkRequest("10A", "teacher-2", 1, "09:00", "09:45"))
	require.NoError(t, err)
	assert.True(t, result.SlotOccupied)
}

func TestEntryServiceTeacherTimetableSortsAndCaches(t *testing.T) {
	f := newEntryFixture(t)
	wednesday := fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusPublished)
	wednesday.DayOfWeek = models.WeekdayWednesday
	f.seed(wednesday)
	f.seed(fixtureEntry("entry-2", "10A", "teacher-1", 2, "08:15", "09:00", models.EntryStatusDraft))

	entries, cacheHit, err := f.svc.TeacherTimetable(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry-2", entries[0].ID)
	assert.Equal(t, "entry-1", entries[1].ID)

	_, cacheHit, err = f.svc.TeacherTimetable(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.True(t, cacheHit)
}

func TestEntryServiceTeacherTimetableUnknownTeacher(t *testing.T) {
	f := newEntryFixture(t)

	_, _, err := f.svc.TeacherTimetable(context.Background(), "school-1", "session-1", "teacher-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEntryServiceCreateInvalidatesTeacherViews(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusDraft))

	_, cacheHit, err := f.svc.TeacherTimetable(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	_, cacheHit, err = f.svc.TeacherTimetable(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.True(t, cacheHit)

	f.expectTx()
	_, err = f.svc.CreateEntry(context.Background(), "admin-1", createRequest("10B", "teacher-1", 2, "09:00", "09:45"))
	require.NoError(t, err)

	_, cacheHit, err = f.svc.TeacherTimetable(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEntryServiceTeacherLoadReport(t *testing.T) {
	f := newEntryFixture(t)
	f.seed(fixtureEntry("entry-1", "10A", "teacher-1", 1, "07:30", "08:15", models.EntryStatusPublished))
	f.seed(fixtureEntry("entry-2", "10B", "teacher-1", 2, "08:15", "09:00", models.EntryStatusDraft))

	load, cacheHit, err := f.svc.TeacherLoadReport(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 2, load.CommittedPeriods)
	assert.Equal(t, 30, load.MaxPeriodsPerWeek)
	assert.False(t, load.Exceeded)

	_, cacheHit, err = f.svc.TeacherLoadReport(context.Background(), "school-1", "session-1", "teacher-1")
	require.NoError(t, err)
	assert.True(t, cacheHit)
}

// --- Fixtures ---

type entryFixture struct {
	store *entryStoreStub
	refs  *refLookupStub
	audit *entryAuditStub
	cache *cacheRepoStub
	svc   *EntryService
	mock  sqlmock.Sqlmock
}

func newEntryFixture(t *testing.T, opts ...EntryServiceOption) *entryFixture {
	store := newEntryStoreStub()
	refs := newRefLookupStub()
	audit := &entryAuditStub{}
	cacheRepo := newCacheRepoStub()
	tx, mock := newTxMock(t)

	detector := NewConflictDetector(store, nil)
	loads := NewLoadTracker(store, refs, 30, nil)
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)

	all := append([]EntryServiceOption{
		WithEntryAudit(audit),
		WithEntryCache(cache),
	}, opts...)
	svc := NewEntryService(store, refs, detector, loads, tx, all...)

	return &entryFixture{store: store, refs: refs, audit: audit, cache: cacheRepo, svc: svc, mock: mock}
}

func (f *entryFixture) expectTx() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

func (f *entryFixture) seed(entry models.ScheduleEntry) {
	f.store.add(entry)
}

func createRequest(classID, teacherID string, period int, start, end string) CreateEntryRequest {
	return CreateEntryRequest{
		SchoolID:     "school-1",
		SessionID:    "session-1",
		ClassID:      classID,
		SubjectID:    "math",
		TeacherID:    teacherID,
		DayOfWeek:    "monday",
		PeriodNumber: period,
		StartTime:    start,
		EndTime:      end,
	}
}

func checkRequest(classID, teacherID string, period int, start, end string) CheckConflictsRequest {
	return CheckConflictsRequest{
		SchoolID:     "school-1",
		SessionID:    "session-1",
		ClassID:      classID,
		SubjectID:    "math",
		TeacherID:    teacherID,
		DayOfWeek:    "monday",
		PeriodNumber: period,
		StartTime:    start,
		EndTime:      end,
	}
}

func fixtureEntry(id, classID, teacherID string, period int, start, end string, status models.EntryStatus) models.ScheduleEntry {
	now := time.Now().UTC()
	return models.ScheduleEntry{
		ID:           id,
		SchoolID:     "school-1",
		SessionID:    "session-1",
		ClassID:      classID,
		SubjectID:    "math",
		TeacherID:    teacherID,
		DayOfWeek:    models.WeekdayMonday,
		PeriodNumber: period,
		StartTime:    start,
		EndTime:      end,
		EntryType:    models.EntryTypeRegular,
		Status:       status,
		Conflicts:    models.ConflictList{},
		Version:      1,
		CreatedBy:    "admin-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func publishedEntry(id, classID, teacherID string, period int, start, end string) models.ScheduleEntry {
	entry := fixtureEntry(id, classID, teacherID, period, start, end, models.EntryStatusPublished)
	publishedBy := "admin-0"
	publishedAt := time.Now().UTC().Add(-time.Hour)
	entry.PublishedBy = &publishedBy
	entry.PublishedAt = &publishedAt
	return entry
}

// entryStoreStub keeps schedule entries in memory with the same version-guard
// behaviour as the SQL repository, so service flows including their stale-write
// paths run against it unchanged.
type entryStoreStub struct {
	entries map[string]*models.ScheduleEntry
	seq     int
}

func newEntryStoreStub() *entryStoreStub {
	return &entryStoreStub{entries: make(map[string]*models.ScheduleEntry)}
}

func (s *entryStoreStub) add(entry models.ScheduleEntry) {
	stored := entry
	stored.Conflicts = append(models.ConflictList{}, entry.Conflicts...)
	s.entries[entry.ID] = &stored
}

func (s *entryStoreStub) snapshot(entry *models.ScheduleEntry) *models.ScheduleEntry {
	copied := *entry
	copied.Conflicts = append(models.ConflictList{}, entry.Conflicts...)
	return &copied
}

func (s *entryStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	if entry.ID == "" {
		s.seq++
		entry.ID = fmt.Sprintf("entry-%d", s.seq)
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
	s.add(*entry)
	return nil
}

func (s *entryStoreStub) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ScheduleEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.snapshot(entry), nil
}

func (s *entryStoreStub) List(ctx context.Context, filter models.EntryFilter) ([]models.ScheduleEntry, int, error) {
	result := make([]models.ScheduleEntry, 0, len(s.entries))
	for _, entry := range s.sorted() {
		if filter.TeacherID != "" && entry.TeacherID != filter.TeacherID {
			continue
		}
		if filter.Status != "" && string(entry.Status) != filter.Status {
			continue
		}
		result = append(result, *s.snapshot(entry))
	}
	return result, len(result), nil
}

func (s *entryStoreStub) Update(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	existing, ok := s.entries[entry.ID]
	if !ok || existing.Version != entry.Version {
		return sql.ErrNoRows
	}
	stored := *entry
	stored.Conflicts = append(models.ConflictList{}, entry.Conflicts...)
	stored.Version = entry.Version + 1
	stored.CreatedAt = existing.CreatedAt
	s.entries[entry.ID] = &stored
	entry.Version++
	return nil
}

func (s *entryStoreStub) ListForTeacherSession(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID, teacherID string) ([]models.ScheduleEntry, error) {
	var result []models.ScheduleEntry
	for _, entry := range s.sorted() {
		if entry.SchoolID != schoolID || entry.SessionID != sessionID || entry.TeacherID != teacherID {
			continue
		}
		if !entry.Status.Committed() {
			continue
		}
		result = append(result, *s.snapshot(entry))
	}
	return result, nil
}

func (s *entryStoreStub) ExistsSlot(ctx context.Context, scope models.Scope, day models.Weekday, period int, excludeID string) (bool, error) {
	for _, entry := range s.entries {
		if entry.ID == excludeID || !entry.Status.Committed() {
			continue
		}
		if !sameScope(entry, scope) || entry.DayOfWeek != day || entry.PeriodNumber != period {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *entryStoreStub) UpdateConflicts(ctx context.Context, exec sqlx.ExtContext, id string, version int, conflicts models.ConflictList) error {
	entry, ok := s.entries[id]
	if !ok || entry.Version != version {
		return sql.ErrNoRows
	}
	entry.Conflicts = append(models.ConflictList{}, conflicts...)
	entry.Version++
	return nil
}

func (s *entryStoreStub) ReopenScope(ctx context.Context, exec sqlx.ExtContext, scope models.Scope, actorID, excludeID string) (int, error) {
	reopened := 0
	for _, entry := range s.sorted() {
		if entry.ID == excludeID || entry.Status != models.EntryStatusPublished || !sameScope(entry, scope) {
			continue
		}
		entry.Status = models.EntryStatusDraft
		entry.Version++
		actor := actorID
		entry.UpdatedBy = &actor
		reopened++
	}
	return reopened, nil
}

func (s *entryStoreStub) SetStatus(ctx context.Context, exec sqlx.ExtContext, id string, version int, status models.EntryStatus, actorID string) error {
	entry, ok := s.entries[id]
	if !ok || entry.Version != version {
		return sql.ErrNoRows
	}
	entry.Status = status
	entry.Version++
	actor := actorID
	entry.UpdatedBy = &actor
	return nil
}

func (s *entryStoreStub) ListScope(ctx context.Context, scope models.Scope) ([]models.ScheduleEntry, error) {
	var result []models.ScheduleEntry
	for _, entry := range s.sorted() {
		if !entry.Status.Committed() || !sameScope(entry, scope) {
			continue
		}
		result = append(result, *s.snapshot(entry))
	}
	return result, nil
}

func (s *entryStoreStub) ListScopeForUpdate(ctx context.Context, tx *sqlx.Tx, scope models.Scope) ([]models.ScheduleEntry, error) {
	return s.ListScope(ctx, scope)
}

func (s *entryStoreStub) PublishEntry(ctx context.Context, exec sqlx.ExtContext, id string, version int, actorID string, at time.Time) error {
	entry, ok := s.entries[id]
	if !ok || entry.Version != version {
		return sql.ErrNoRows
	}
	entry.Status = models.EntryStatusPublished
	actor := actorID
	instant := at
	entry.PublishedBy = &actor
	entry.PublishedAt = &instant
	entry.Version++
	return nil
}

func (s *entryStoreStub) ListForTeacher(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, teacherID string) ([]models.ScheduleEntry, error) {
	return s.listDimension(schoolID, sessionID, day, func(entry *models.ScheduleEntry) bool {
		return entry.TeacherID == teacherID
	}), nil
}

func (s *entryStoreStub) ListForRoom(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, roomID string) ([]models.ScheduleEntry, error) {
	return s.listDimension(schoolID, sessionID, day, func(entry *models.ScheduleEntry) bool {
		return entry.RoomID != nil && *entry.RoomID == roomID
	}), nil
}

func (s *entryStoreStub) ListForClass(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, classID string, sectionID *string) ([]models.ScheduleEntry, error) {
	return s.listDimension(schoolID, sessionID, day, func(entry *models.ScheduleEntry) bool {
		return entry.ClassID == classID && sameSection(entry.SectionID, sectionID)
	}), nil
}

func (s *entryStoreStub) listDimension(schoolID, sessionID string, day models.Weekday, match func(*models.ScheduleEntry) bool) []models.ScheduleEntry {
	var result []models.ScheduleEntry
	for _, entry := range s.sorted() {
		if entry.SchoolID != schoolID || entry.SessionID != sessionID || entry.DayOfWeek != day {
			continue
		}
		if !entry.Status.Committed() || entry.IsBreak {
			continue
		}
		if !match(entry) {
			continue
		}
		result = append(result, *s.snapshot(entry))
	}
	return result
}

func (s *entryStoreStub) sorted() []*models.ScheduleEntry {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]*models.ScheduleEntry, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.entries[id])
	}
	return result
}

func sameScope(entry *models.ScheduleEntry, scope models.Scope) bool {
	return entry.SchoolID == scope.SchoolID &&
		entry.SessionID == scope.SessionID &&
		entry.ClassID == scope.ClassID &&
		sameSection(entry.SectionID, scope.SectionID)
}

func sameSection(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type refLookupStub struct {
	teachers map[string]*models.TeacherRef
	rooms    map[string]*models.RoomRef
	sessions map[string]*models.SessionRef
	classes  map[string]*models.ClassRef
	sections map[string]map[string]bool
}

func newRefLookupStub() *refLookupStub {
	return &refLookupStub{
		teachers: map[string]*models.TeacherRef{
			"teacher-1": {ID: "teacher-1", FullName: "Guru Satu", Active: true},
			"teacher-2": {ID: "teacher-2", FullName: "Guru Dua", Active: true},
		},
		rooms: map[string]*models.RoomRef{
			"lab-1": {ID: "lab-1", Name: "Lab IPA", Active: true},
		},
		sessions: map[string]*models.SessionRef{
			"session-1": {ID: "session-1", AcademicYear: "2025/2026", Active: true},
		},
		classes: map[string]*models.ClassRef{
			"10A": {ID: "10A", SchoolID: "school-1", Name: "X-A"},
			"10B": {ID: "10B", SchoolID: "school-1", Name: "X-B"},
		},
		sections: map[string]map[string]bool{
			"10A": {"sec-1": true},
		},
	}
}

func (s *refLookupStub) FindTeacher(ctx context.Context, id string) (*models.TeacherRef, error) {
	if teacher, ok := s.teachers[id]; ok {
		return teacher, nil
	}
	return nil, sql.ErrNoRows
}

func (s *refLookupStub) FindRoom(ctx context.Context, id string) (*models.RoomRef, error) {
	if room, ok := s.rooms[id]; ok {
		return room, nil
	}
	return nil, sql.ErrNoRows
}

func (s *refLookupStub) FindSession(ctx context.Context, id string) (*models.SessionRef, error) {
	if session, ok := s.sessions[id]; ok {
		return session, nil
	}
	return nil, sql.ErrNoRows
}

func (s *refLookupStub) FindClass(ctx context.Context, id string) (*models.ClassRef, error) {
	if class, ok := s.classes[id]; ok {
		return class, nil
	}
	return nil, sql.ErrNoRows
}

func (s *refLookupStub) HasSection(ctx context.Context, classID, sectionID string) (bool, error) {
	return s.sections[classID][sectionID], nil
}

type entryAuditStub struct {
	logs []*models.AuditLog
}

func (a *entryAuditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type cacheRepoStub struct {
	data map[string][]byte
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{data: make(map[string][]byte)}
}

func (c *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	return nil
}

type txMock struct {
	db *sqlx.DB
}

func newTxMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txMock{db: sqlxdb}, mock
}

func (m *txMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}
