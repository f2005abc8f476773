package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// conflictEntrySource is the slice of the entry store the detector reads.
// Every query accepts an optional transaction so scope publish can validate
// against a single snapshot.
type conflictEntrySource interface {
	ListForTeacher(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, teacherID string) ([]models.ScheduleEntry, error)
	ListForRoom(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, roomID string) ([]models.ScheduleEntry, error)
	ListForClass(ctx context.Context, exec sqlx.ExtContext, schoolID, sessionID string, day models.Weekday, classID string, sectionID *string) ([]models.ScheduleEntry, error)
}

// Overlaps applies the half-open interval rule: two placements collide when
// each starts before the other ends. Back-to-back periods share an endpoint
// and do not overlap.
func Overlaps(start1, end1, start2, end2 int) bool {
	return start1 < end2 && start2 < end1
}

// ConflictDetector finds double-bookings along the teacher, room and
// class+section dimensions. It never mutates the store; callers decide
// whether to persist the records it returns.
type ConflictDetector struct {
	store  conflictEntrySource
	logger *zap.Logger
}

// NewConflictDetector constructs a detector backed by the given entry source.
func NewConflictDetector(store conflictEntrySource, logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{store: store, logger: logger}
}

// Detect evaluates a candidate entry against the committed snapshot and
// returns one record per overlapping counterpart, in dimension order
// teacher, room, class. Re-running against an unchanged snapshot yields the
// same set. Break entries and the candidate's own id (plus excludeID, the
// prior version during updates) are skipped; the room dimension is skipped
// when the candidate has no room.
func (d *ConflictDetector) Detect(ctx context.Context, exec sqlx.ExtContext, candidate *models.ScheduleEntry, excludeID string) ([]models.ConflictRecord, error) {
	if candidate.IsBreak || (candidate.Status != "" && !candidate.Status.Committed()) {
		return nil, nil
	}

	start, end, err := candidate.Interval()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var records []models.ConflictRecord

	teacherEntries, err := d.store.ListForTeacher(ctx, exec, candidate.SchoolID, candidate.SessionID, candidate.DayOfWeek, candidate.TeacherID)
	if err != nil {
		return nil, err
	}
	hits, err := d.probe(teacherEntries, candidate, excludeID, start, end)
	if err != nil {
		return nil, err
	}
	for _, other := range hits {
		records = append(records, newConflictRecord(models.ConflictTypeTeacher, other, now))
	}

	if candidate.RoomID != nil && *candidate.RoomID != "" {
		roomEntries, err := d.store.ListForRoom(ctx, exec, candidate.SchoolID, candidate.SessionID, candidate.DayOfWeek, *candidate.RoomID)
		if err != nil {
			return nil, err
		}
		hits, err = d.probe(roomEntries, candidate, excludeID, start, end)
		if err != nil {
			return nil, err
		}
		for _, other := range hits {
			records = append(records, newConflictRecord(models.ConflictTypeRoom, other, now))
		}
	}

	classEntries, err := d.store.ListForClass(ctx, exec, candidate.SchoolID, candidate.SessionID, candidate.DayOfWeek, candidate.ClassID, candidate.SectionID)
	if err != nil {
		return nil, err
	}
	hits, err = d.probe(classEntries, candidate, excludeID, start, end)
	if err != nil {
		return nil, err
	}
	for _, other := range hits {
		records = append(records, newConflictRecord(models.ConflictTypeClass, other, now))
	}

	if len(records) > 0 {
		d.logger.Debug("conflicts detected",
			zap.String("entry_id", candidate.ID),
			zap.Int("count", len(records)))
	}
	return records, nil
}

// probe indexes one dimension's entries by interval and returns those
// overlapping the candidate, ascending by start.
func (d *ConflictDetector) probe(entries []models.ScheduleEntry, candidate *models.ScheduleEntry, excludeID string, start, end int) ([]*models.ScheduleEntry, error) {
	ix, err := newIntervalIndex(entries, candidate.ID, excludeID)
	if err != nil {
		return nil, err
	}
	return ix.overlapping(start, end), nil
}

func newConflictRecord(ctype models.ConflictType, other *models.ScheduleEntry, now time.Time) models.ConflictRecord {
	rec := models.ConflictRecord{
		ID:         uuid.NewString(),
		Type:       ctype,
		Severity:   models.SeverityFor(ctype),
		Detail:     fmt.Sprintf("overlaps %s-%s on %s", other.StartTime, other.EndTime, other.DayOfWeek),
		DetectedAt: now,
	}
	otherID := other.ID
	rec.ConflictingEntryID = &otherID
	return rec
}

// ReciprocalRecord builds the mirror of a detected record for the counterpart
// entry, so both implicated sides carry the violation.
func ReciprocalRecord(rec models.ConflictRecord, candidate *models.ScheduleEntry) models.ConflictRecord {
	mirror := models.ConflictRecord{
		ID:         uuid.NewString(),
		Type:       rec.Type,
		Severity:   rec.Severity,
		Detail:     fmt.Sprintf("overlaps %s-%s on %s", candidate.StartTime, candidate.EndTime, candidate.DayOfWeek),
		DetectedAt: rec.DetectedAt,
	}
	candidateID := candidate.ID
	mirror.ConflictingEntryID = &candidateID
	return mirror
}

// CarryResolutions merges a fresh detection pass with the previously
// persisted list. A fresh record whose identity key matches a prior record
// keeps the prior id, resolution state and detection time; violations that no
// longer apply are dropped; new ones start unresolved.
func CarryResolutions(prior models.ConflictList, fresh []models.ConflictRecord) models.ConflictList {
	byKey := make(map[string]models.ConflictRecord, len(prior))
	for _, rec := range prior {
		byKey[rec.IdentityKey()] = rec
	}

	merged := make(models.ConflictList, 0, len(fresh))
	for _, rec := range fresh {
		if old, ok := byKey[rec.IdentityKey()]; ok {
			rec.ID = old.ID
			rec.Resolved = old.Resolved
			rec.ResolvedBy = old.ResolvedBy
			rec.ResolvedAt = old.ResolvedAt
			rec.DetectedAt = old.DetectedAt
		}
		merged = append(merged, rec)
	}
	return merged
}

// indexedInterval is one committed placement inside an interval index.
type indexedInterval struct {
	start, end int
	entry      models.ScheduleEntry
}

// intervalIndex holds one resource dimension's committed intervals sorted by
// start minute, with a prefix maximum over ends so an overlap probe is a
// binary search plus a bounded leftward walk instead of a full scan.
type intervalIndex struct {
	items      []indexedInterval
	maxEndUpTo []int
}

func newIntervalIndex(entries []models.ScheduleEntry, skipIDs ...string) (*intervalIndex, error) {
	skip := make(map[string]struct{}, len(skipIDs))
	for _, id := range skipIDs {
		if id != "" {
			skip[id] = struct{}{}
		}
	}

	items := make([]indexedInterval, 0, len(entries))
	for _, entry := range entries {
		if _, skipped := skip[entry.ID]; skipped {
			continue
		}
		start, end, err := entry.Interval()
		if err != nil {
			return nil, err
		}
		items = append(items, indexedInterval{start: start, end: end, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].start != items[j].start {
			return items[i].start < items[j].start
		}
		return items[i].entry.ID < items[j].entry.ID
	})

	maxEndUpTo := make([]int, len(items))
	for i, item := range items {
		maxEndUpTo[i] = item.end
		if i > 0 && maxEndUpTo[i-1] > item.end {
			maxEndUpTo[i] = maxEndUpTo[i-1]
		}
	}
	return &intervalIndex{items: items, maxEndUpTo: maxEndUpTo}, nil
}

// overlapping returns the entries whose half-open interval intersects
// [start, end), ascending by start.
func (ix *intervalIndex) overlapping(start, end int) []*models.ScheduleEntry {
	// Everything at or beyond the first item starting at end is out of reach;
	// walking left stops once no earlier interval can still cross start.
	cut := sort.Search(len(ix.items), func(i int) bool { return ix.items[i].start >= end })
	var hits []*models.ScheduleEntry
	for i := cut - 1; i >= 0; i-- {
		if ix.maxEndUpTo[i] <= start {
			break
		}
		if ix.items[i].end > start {
			hits = append(hits, &ix.items[i].entry)
		}
	}
	for l, r := 0, len(hits)-1; l < r; l, r = l+1, r-1 {
		hits[l], hits[r] = hits[r], hits[l]
	}
	return hits
}
