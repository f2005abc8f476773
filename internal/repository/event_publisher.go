package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// EventPublisher broadcasts domain events to downstream dispatchers over
// redis pub/sub. The notification service consuming the channel lives outside
// this API.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

// NewEventPublisher creates a publisher bound to a channel.
func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = models.EventSchedulePublished
	}
	return &EventPublisher{client: client, channel: channel}
}

// PublishSchedulePublished serialises and broadcasts a publish event.
func (p *EventPublisher) PublishSchedulePublished(ctx context.Context, event models.PublishedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal published event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish schedule event: %w", err)
	}
	return nil
}
