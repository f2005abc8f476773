package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type publishedEventSink interface {
	PublishSchedulePublished(ctx context.Context, event models.PublishedEvent) error
}

// NotificationService hands publish events to a background queue so the API
// response never waits on the broadcast. Delivery failures are retried by the
// queue and logged, never surfaced to the caller: the publish itself already
// committed.
type NotificationService struct {
	queue  jobDispatcher
	logger *zap.Logger
}

// NewNotificationService instantiates NotificationService.
func NewNotificationService(queue jobDispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, logger: logger}
}

// NotifyPublished enqueues a schedule.published event for asynchronous
// delivery.
func (s *NotificationService) NotifyPublished(event models.PublishedEvent) {
	if s == nil || s.queue == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: models.EventSchedulePublished, Payload: event}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue publish notification",
			zap.String("scope", event.Scope.Key()),
			zap.Error(err))
	}
}

// NotificationWorker delivers queued publish events to the event channel.
type NotificationWorker struct {
	sink   publishedEventSink
	logger *zap.Logger
}

// NewNotificationWorker instantiates NotificationWorker.
func NewNotificationWorker(sink publishedEventSink, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{sink: sink, logger: logger}
}

// Handle processes one queued event.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.PublishedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	if err := w.sink.PublishSchedulePublished(ctx, event); err != nil {
		return err
	}
	w.logger.Debug("publish event delivered",
		zap.String("scope", event.Scope.Key()),
		zap.Int("recipients", len(event.Recipients.TeacherIDs)))
	return nil
}
