package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

type publishEntryStore interface {
	ListScope(ctx context.Context, scope models.Scope) ([]models.ScheduleEntry, error)
	ListScopeForUpdate(ctx context.Context, tx *sqlx.Tx, scope models.Scope) ([]models.ScheduleEntry, error)
	PublishEntry(ctx context.Context, exec sqlx.ExtContext, id string, version int, actorID string, at time.Time) error
	UpdateConflicts(ctx context.Context, exec sqlx.ExtContext, id string, version int, conflicts models.ConflictList) error
}

type publishNotifier interface {
	NotifyPublished(event models.PublishedEvent)
}

// PublishRequest names the scope whose draft entries should go live.
type PublishRequest struct {
	SchoolID  string  `json:"school_id" validate:"required"`
	SessionID string  `json:"academic_session_id" validate:"required"`
	ClassID   string  `json:"class_id" validate:"required"`
	SectionID *string `json:"section_id"`
}

// PublishResult summarises a successful publish.
type PublishResult struct {
	Scope          models.Scope `json:"scope"`
	PublishedCount int          `json:"published_count"`
	PublishedBy    string       `json:"published_by"`
	PublishedAt    time.Time    `json:"published_at"`
}

// PublishService flips a scope's draft entries to published atomically. A
// publish only succeeds when a fresh detection pass over the locked scope
// finds no unresolved conflicts.
type PublishService struct {
	repo      publishEntryStore
	detector  conflictFinder
	loads     loadEvaluator
	tx        txProvider
	audit     auditSink
	locks     lock.Locker
	cache     *CacheService
	metrics   *MetricsService
	notifier  publishNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// PublishServiceOption customises optional collaborators.
type PublishServiceOption func(*PublishService)

// WithPublishAudit wires an audit sink.
func WithPublishAudit(audit auditSink) PublishServiceOption {
	return func(s *PublishService) { s.audit = audit }
}

// WithPublishLocks overrides the scope locker.
func WithPublishLocks(locks lock.Locker) PublishServiceOption {
	return func(s *PublishService) { s.locks = locks }
}

// WithPublishCache wires cached scope view invalidation.
func WithPublishCache(cache *CacheService) PublishServiceOption {
	return func(s *PublishService) { s.cache = cache }
}

// WithPublishMetrics wires instrumentation.
func WithPublishMetrics(metrics *MetricsService) PublishServiceOption {
	return func(s *PublishService) { s.metrics = metrics }
}

// WithPublishNotifier wires the post-publish event dispatcher.
func WithPublishNotifier(notifier publishNotifier) PublishServiceOption {
	return func(s *PublishService) { s.notifier = notifier }
}

// WithPublishValidator overrides the payload validator.
func WithPublishValidator(v *validator.Validate) PublishServiceOption {
	return func(s *PublishService) { s.validator = v }
}

// WithPublishLogger overrides the logger.
func WithPublishLogger(logger *zap.Logger) PublishServiceOption {
	return func(s *PublishService) { s.logger = logger }
}

// NewPublishService instantiates PublishService.
func NewPublishService(repo publishEntryStore, detector conflictFinder, loads loadEvaluator, tx txProvider, opts ...PublishServiceOption) *PublishService {
	s := &PublishService{repo: repo, detector: detector, loads: loads, tx: tx}
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
	return s
}

// PublishScope locks the scope, re-runs conflict detection over every entry
// in it and, when nothing unresolved remains, flips all drafts to published
// in one transaction. Any unresolved conflict aborts the whole publish.
func (s *PublishService) PublishScope(ctx context.Context, actorID string, req PublishRequest) (*PublishResult, error) {
	if actorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publish payload")
	}
	scope := models.Scope{
		SchoolID:  req.SchoolID,
		SessionID: req.SessionID,
		ClassID:   req.ClassID,
		SectionID: normalizeOptionalID(req.SectionID),
	}

	release, err := s.locks.Acquire(ctx, "publish:"+scope.Key())
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

	entries, err := s.repo.ListScopeForUpdate(ctx, tx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock scope entries")
	}
	if len(entries) == 0 {
		err = appErrors.Clone(appErrors.ErrNotFound, "no schedule entries in scope")
		return nil, err
	}
	drafts := 0
	for i := range entries {
		if entries[i].Status == models.EntryStatusDraft {
			drafts++
		}
	}
	if drafts == 0 {
		err = appErrors.Clone(appErrors.ErrInvalidTransition, "scope has no draft entries to publish")
		return nil, err
	}

	merged := make([]models.ConflictList, len(entries))
	var violations []models.EntryConflict
	for i := range entries {
		entry := &entries[i]
		records, refreshErr := s.refresh(ctx, tx, entry)
		if refreshErr != nil {
			err = refreshErr
			return nil, err
		}
		merged[i] = CarryResolutions(entry.Conflicts, records)
		for _, rec := range merged[i].Unresolved() {
			violations = append(violations, models.EntryConflict{
				EntryID:   entry.ID,
				DayOfWeek: entry.DayOfWeek,
				Period:    entry.PeriodNumber,
				Conflict:  rec,
			})
		}
	}
	if len(violations) > 0 {
		s.metrics.RecordPublishAttempt("conflicts")
		domainErr := &models.ConflictListError{
			Type:       appErrors.ErrScheduleConflicts.Code,
			Message:    fmt.Sprintf("%d unresolved conflicts block publishing", len(violations)),
			Scope:      scope,
			Violations: violations,
		}
		err = appErrors.Wrap(domainErr, appErrors.ErrScheduleConflicts.Code, appErrors.ErrScheduleConflicts.Status, domainErr.Message)
		return nil, err
	}

	now := time.Now().UTC()
	published := 0
	teacherIDs := make(map[string]bool)
	for i := range entries {
		entry := &entries[i]
		if conflictsChanged(entry.Conflicts, merged[i]) {
			if err = s.repo.UpdateConflicts(ctx, tx, entry.ID, entry.Version, merged[i]); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					s.metrics.RecordPublishAttempt("stale")
					err = appErrors.Clone(appErrors.ErrStaleWrite, "scope changed during publish")
					return nil, err
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh entry conflicts")
			}
			entry.Version++
		}
		if entry.Status != models.EntryStatusDraft {
			continue
		}
		if err = s.repo.PublishEntry(ctx, tx, entry.ID, entry.Version, actorID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.metrics.RecordPublishAttempt("stale")
				err = appErrors.Clone(appErrors.ErrStaleWrite, "scope changed during publish")
				return nil, err
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish entry")
		}
		published++
		teacherIDs[entry.TeacherID] = true
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit publish")
	}

	s.metrics.RecordPublishAttempt("published")
	if s.cache.Enabled() {
		_ = s.cache.InvalidateScope(ctx, scope)
		for id := range teacherIDs {
			_ = s.cache.InvalidateTeacher(ctx, scope.SchoolID, scope.SessionID, id)
		}
	}
	s.emitAudit(ctx, actorID, scope, published)
	s.notify(scope, published, actorID, now, teacherIDs)

	s.logger.Info("scope published",
		zap.String("scope", scope.Key()),
		zap.Int("published", published),
		zap.String("actor_id", actorID))
	return &PublishResult{Scope: scope, PublishedCount: published, PublishedBy: actorID, PublishedAt: now}, nil
}

// ScopeSummary aggregates a scope's entries and publish state for timetable
// views. Results are cached until the scope changes; the second return
// reports a cache hit.
func (s *PublishService) ScopeSummary(ctx context.Context, scope models.Scope) (*models.ScopeSummary, bool, error) {
	scope.SectionID = normalizeOptionalID(scope.SectionID)

	cacheKey := ScopeCacheKey(scope) + ":summary"
	var cached models.ScopeSummary
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	entries, err := s.repo.ListScope(ctx, scope)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scope entries")
	}

	summary := &models.ScopeSummary{Scope: scope, Entries: entries}
	if summary.Entries == nil {
		summary.Entries = []models.ScheduleEntry{}
	}
	for i := range entries {
		switch entries[i].Status {
		case models.EntryStatusDraft:
			summary.DraftCount++
		case models.EntryStatusPublished:
			summary.PublishedCount++
		}
		summary.UnresolvedConflicts += len(entries[i].Conflicts.Unresolved())
	}

	_ = s.cache.Set(ctx, cacheKey, summary, 0)
	return summary, false, nil
}

// ScopeConflicts lists every unresolved conflict in a scope, the same view a
// publish attempt validates against.
func (s *PublishService) ScopeConflicts(ctx context.Context, scope models.Scope) ([]models.EntryConflict, error) {
	scope.SectionID = normalizeOptionalID(scope.SectionID)
	entries, err := s.repo.ListScope(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scope entries")
	}
	violations := make([]models.EntryConflict, 0)
	for i := range entries {
		for _, rec := range entries[i].Conflicts.Unresolved() {
			violations = append(violations, models.EntryConflict{
				EntryID:   entries[i].ID,
				DayOfWeek: entries[i].DayOfWeek,
				Period:    entries[i].PeriodNumber,
				Conflict:  rec,
			})
		}
	}
	return violations, nil
}

func (s *PublishService) refresh(ctx context.Context, tx *sqlx.Tx, entry *models.ScheduleEntry) ([]models.ConflictRecord, error) {
	start := time.Now()
	records, err := s.detector.Detect(ctx, tx, entry, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to detect schedule conflicts")
	}
	loadRecord, err := s.loads.Evaluate(ctx, tx, entry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate teacher load")
	}
	if loadRecord != nil {
		records = append(records, *loadRecord)
	}
	s.metrics.ObserveConflictCheck(time.Since(start), records)
	return records, nil
}

func (s *PublishService) emitAudit(ctx context.Context, actorID string, scope models.Scope, published int) {
	if s.audit == nil {
		return
	}
	scopeKey := scope.Key()
	log := &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionScopePublish,
		Resource:   "timetable_scopes",
		ResourceID: &scopeKey,
		NewValues:  auditSnapshot(map[string]interface{}{"scope": scope, "published_count": published}),
		IPAddress:  "system",
		UserAgent:  "timetable-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *PublishService) notify(scope models.Scope, published int, actorID string, at time.Time, teacherIDs map[string]bool) {
	if s.notifier == nil {
		return
	}
	recipients := make([]string, 0, len(teacherIDs))
	for id := range teacherIDs {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)
	s.notifier.NotifyPublished(models.PublishedEvent{
		Scope:          scope,
		PublishedCount: published,
		PublishedBy:    actorID,
		PublishedAt:    at,
		Recipients: models.EventRecipients{
			TeacherIDs: recipients,
			ClassID:    scope.ClassID,
			SectionID:  scope.SectionID,
		},
	})
}

// conflictsChanged reports whether two conflict lists differ by record
// identity or resolution state.
func conflictsChanged(prior, next models.ConflictList) bool {
	if len(prior) != len(next) {
		return true
	}
	byID := make(map[string]models.ConflictRecord, len(prior))
	for _, rec := range prior {
		byID[rec.ID] = rec
	}
	for _, rec := range next {
		old, ok := byID[rec.ID]
		if !ok || old.Resolved != rec.Resolved {
			return true
		}
	}
	return false
}
