package models

import "time"

// EventSchedulePublished is the channel/topic name for publish notifications.
const EventSchedulePublished = "schedule.published"

// EventRecipients lists the audience of a publish notification.
type EventRecipients struct {
	TeacherIDs []string `json:"teacher_ids"`
	ClassID    string   `json:"class_id"`
	SectionID  *string  `json:"section_id,omitempty"`
}

// PublishedEvent is the payload emitted when a scope goes live.
type PublishedEvent struct {
	Scope          Scope           `json:"scope"`
	PublishedCount int             `json:"published_count"`
	PublishedBy    string          `json:"published_by"`
	PublishedAt    time.Time       `json:"published_at"`
	Recipients     EventRecipients `json:"recipients"`
}
