package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// loadEntrySource is the slice of the entry store the load tracker reads.
type loadEntrySource interface {
	ListForTeacherSession(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID, teacherID string) ([]models.ScheduleEntry, error)
}

// teacherLookup supplies the externally owned teacher record.
type teacherLookup interface {
	FindTeacher(ctx context.Context, id string) (*models.TeacherRef, error)
}

// LoadTracker computes a teacher's committed weekly period count for an
// academic session and compares it against the configured ceiling.
type LoadTracker struct {
	store      loadEntrySource
	refs       teacherLookup
	defaultMax int
	logger     *zap.Logger
}

// NewLoadTracker constructs a load tracker. The default ceiling applies when
// a teacher record carries no max_periods_per_week of its own.
func NewLoadTracker(store loadEntrySource, refs teacherLookup, defaultMax int, logger *zap.Logger) *LoadTracker {
	if defaultMax <= 0 {
		defaultMax = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoadTracker{store: store, refs: refs, defaultMax: defaultMax, logger: logger}
}

// Evaluate sums the teacher's committed periods including the candidate's own
// contribution and returns at most one load-exceeded record, regardless of
// how far over the ceiling the total lands.
func (t *LoadTracker) Evaluate(ctx context.Context, exec sqlx.ExtContext, candidate *models.ScheduleEntry) (*models.ConflictRecord, error) {
	contribution := candidate.PeriodContribution()
	if contribution == 0 {
		return nil, nil
	}
	if candidate.Status != "" && !candidate.Status.Committed() {
		return nil, nil
	}

	ceiling, err := t.ceiling(ctx, candidate.TeacherID)
	if err != nil {
		return nil, err
	}

	entries, err := t.store.ListForTeacherSession(ctx, exec, candidate.SchoolID, candidate.SessionID, candidate.TeacherID)
	if err != nil {
		return nil, err
	}

	total := contribution
	for i := range entries {
		if entries[i].ID == candidate.ID {
			continue
		}
		total += entries[i].PeriodContribution()
	}

	if total <= ceiling {
		return nil, nil
	}

	t.logger.Debug("teacher load exceeded",
		zap.String("teacher_id", candidate.TeacherID),
		zap.Int("total", total),
		zap.Int("ceiling", ceiling))

	rec := models.ConflictRecord{
		ID:         uuid.NewString(),
		Type:       models.ConflictTypeTeacherLoad,
		Severity:   models.SeverityFor(models.ConflictTypeTeacherLoad),
		Detail:     fmt.Sprintf("weekly load %d exceeds ceiling %d", total, ceiling),
		DetectedAt: time.Now().UTC(),
	}
	return &rec, nil
}

// WeeklyLoad reports a teacher's current committed load for read endpoints.
func (t *LoadTracker) WeeklyLoad(ctx context.Context, schoolID, sessionID, teacherID string) (*models.TeacherLoad, error) {
	ceiling, err := t.ceiling(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	entries, err := t.store.ListForTeacherSession(ctx, nil, schoolID, sessionID, teacherID)
	if err != nil {
		return nil, err
	}

	total := 0
	for i := range entries {
		total += entries[i].PeriodContribution()
	}

	return &models.TeacherLoad{
		TeacherID:         teacherID,
		SessionID:         sessionID,
		CommittedPeriods:  total,
		MaxPeriodsPerWeek: ceiling,
		Exceeded:          total > ceiling,
	}, nil
}

func (t *LoadTracker) ceiling(ctx context.Context, teacherID string) (int, error) {
	teacher, err := t.refs.FindTeacher(ctx, teacherID)
	if err != nil {
		return 0, err
	}
	if teacher.MaxPeriodsPerWeek != nil && *teacher.MaxPeriodsPerWeek > 0 {
		return *teacher.MaxPeriodsPerWeek, nil
	}
	return t.defaultMax, nil
}
