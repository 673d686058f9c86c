// Package pubsub mirrors incident events to a Google Cloud Pub/Sub topic for
// downstream consumers (audit trails, chat notifiers). Delivery here is
// at-least-once: a re-sent action produces a duplicate message with a fresh
// event ID, and consumers deduplicate on dedup key plus action.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
	"github.com/apptrail-sh/replica-sentinel/internal/sink"
)

// ParseTopicPath splits a full Pub/Sub topic path into project and topic IDs.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// Publisher sends incident events to Google Cloud Pub/Sub.
//
// Authentication is handled via Application Default Credentials:
// Workload Identity on GKE, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth.
type Publisher struct {
	client          *pubsub.Client
	publisher       *pubsub.Publisher
	topicPath       string
	clusterID       string
	sentinelVersion string
	logger          *zap.Logger
}

// NewPublisher creates a Pub/Sub incident event publisher.
func NewPublisher(ctx context.Context, topicPath, clusterID, sentinelVersion string, logger *zap.Logger) (*Publisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Ordering per workload keeps a resolve from overtaking its trigger.
	// The subscription must also have message ordering enabled.
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &Publisher{
		client:          client,
		publisher:       publisher,
		topicPath:       topicPath,
		clusterID:       clusterID,
		sentinelVersion: sentinelVersion,
		logger:          logger,
	}, nil
}

func (p *Publisher) Name() string { return "pubsub" }

// Send publishes one incident event and waits for the server ack.
func (p *Publisher) Send(ctx context.Context, action model.AlertAction) error {
	event := model.NewIncidentEventPayload(action, p.clusterID, p.sentinelVersion)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal incident event: %w", err)
	}

	orderingKey := fmt.Sprintf("%s/%s", p.clusterID, action.Identity.Key())

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"action":    string(action.Kind),
			"dedup_key": action.DedupKey,
			"namespace": action.Identity.Namespace,
			"workload":  action.Identity.Name,
		},
		OrderingKey: orderingKey,
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: pubsub publish to %s: %v", sink.ErrUnavailable, p.topicPath, err)
	}

	p.logger.Info("incident event published to pubsub",
		zap.String("topic", p.topicPath),
		zap.String("eventID", event.EventID),
		zap.String("messageID", msgID),
		zap.String("dedupKey", action.DedupKey),
	)
	return nil
}

// Stop flushes the publisher and closes the client.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
