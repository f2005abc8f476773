package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

func TestNotificationServiceEnqueuesPublishEvent(t *testing.T) {
	dispatcher := &jobDispatcherStub{}
	svc := NewNotificationService(dispatcher, nil)

	svc.NotifyPublished(samplePublishedEvent())

	require.Len(t, dispatcher.jobs, 1)
	job := dispatcher.jobs[0]
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.EventSchedulePublished, job.Type)

	event, ok := job.Payload.(models.PublishedEvent)
	require.True(t, ok)
	assert.Equal(t, "10A", event.Recipients.ClassID)
	assert.Equal(t, 2, event.PublishedCount)
}

func TestNotificationServiceSwallowsEnqueueFailure(t *testing.T) {
	dispatcher := &jobDispatcherStub{err: errors.New("queue full")}
	svc := NewNotificationService(dispatcher, nil)

	svc.NotifyPublished(samplePublishedEvent())

	assert.Len(t, dispatcher.jobs, 1)
}

func TestNotificationWorkerDeliversEvent(t *testing.T) {
	sink := &eventSinkStub{}
	worker := NewNotificationWorker(sink, nil)

	err := worker.Handle(context.Background(), jobs.Job{
		ID:      "job-1",
		Type:    models.EventSchedulePublished,
		Payload: samplePublishedEvent(),
	})
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, []string{"teacher-1", "teacher-2"}, sink.events[0].Recipients.TeacherIDs)
}

func TestNotificationWorkerRejectsForeignPayload(t *testing.T) {
	worker := NewNotificationWorker(&eventSinkStub{}, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Payload: "not an event"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected payload type")
}

func TestNotificationWorkerPropagatesSinkError(t *testing.T) {
	sink := &eventSinkStub{err: errors.New("redis down")}
	worker := NewNotificationWorker(sink, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Payload: samplePublishedEvent()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

// --- Fixtures ---

func samplePublishedEvent() models.PublishedEvent {
	return models.PublishedEvent{
		Scope:          models.Scope{SchoolID: "school-1", SessionID: "session-1", ClassID: "10A"},
		PublishedCount: 2,
		PublishedBy:    "admin-1",
		PublishedAt:    time.Now().UTC(),
		Recipients: models.EventRecipients{
			TeacherIDs: []string{"teacher-1", "teacher-2"},
			ClassID:    "10A",
		},
	}
}

type jobDispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (d *jobDispatcherStub) Enqueue(job jobs.Job) error {
	d.jobs = append(d.jobs, job)
	return d.err
}

type eventSinkStub struct {
	events []models.PublishedEvent
	err    error
}

func (s *eventSinkStub) PublishSchedulePublished(ctx context.Context, event models.PublishedEvent) error {
	s.events = append(s.events, event)
	return s.err
}
