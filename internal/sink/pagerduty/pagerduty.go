// Package pagerduty delivers alert actions to the PagerDuty Events v2 API.
package pagerduty

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
	"github.com/apptrail-sh/replica-sentinel/internal/sink"
)

// DefaultEndpoint is the public Events v2 enqueue URL.
const DefaultEndpoint = "https://events.pagerduty.com/v2/enqueue"

// eventRequest is the Events v2 envelope. Resolve events carry only the
// routing key, action, and dedup key.
type eventRequest struct {
	RoutingKey  string        `json:"routing_key"`
	EventAction string        `json:"event_action"`
	DedupKey    string        `json:"dedup_key"`
	Payload     *eventPayload `json:"payload,omitempty"`
}

type eventPayload struct {
	Summary       string                     `json:"summary"`
	Severity      string                     `json:"severity"`
	Source        string                     `json:"source"`
	Component     string                     `json:"component"`
	Group         string                     `json:"group"`
	Class         string                     `json:"class"`
	CustomDetails model.IncidentEventPayload `json:"custom_details"`
}

// Publisher sends incident events to PagerDuty. Events v2 is idempotent per
// dedup key and action, so re-sending after a failed run opens no duplicate
// incidents.
type Publisher struct {
	client          *resty.Client
	endpoint        string
	routingKey      string
	clusterID       string
	sentinelVersion string
	logger          *zap.Logger
}

// NewPublisher creates a PagerDuty publisher with bounded retries.
func NewPublisher(endpoint, routingKey, clusterID, sentinelVersion string, logger *zap.Logger) *Publisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Publisher{
		client:          client,
		endpoint:        endpoint,
		routingKey:      routingKey,
		clusterID:       clusterID,
		sentinelVersion: sentinelVersion,
		logger:          logger,
	}
}

func (p *Publisher) Name() string { return "pagerduty" }

// Send delivers one trigger or resolve event.
func (p *Publisher) Send(ctx context.Context, action model.AlertAction) error {
	req := eventRequest{
		RoutingKey:  p.routingKey,
		EventAction: string(action.Kind),
		DedupKey:    action.DedupKey,
	}
	if action.Kind == model.ActionTrigger {
		req.Payload = &eventPayload{
			Summary: fmt.Sprintf("%s %s/%s has %d/%d available replicas",
				action.Identity.Kind, action.Identity.Namespace, action.Identity.Name,
				action.Available, action.Desired),
			Severity:      "critical",
			Source:        p.clusterID,
			Component:     fmt.Sprintf("%s/%s", action.Identity.Namespace, action.Identity.Name),
			Group:         "kubernetes",
			Class:         "replica_shortfall",
			CustomDetails: model.NewIncidentEventPayload(action, p.clusterID, p.sentinelVersion),
		}
	}

	p.logger.Info("sending pagerduty event",
		zap.String("action", string(action.Kind)),
		zap.String("dedupKey", action.DedupKey),
		zap.String("workload", action.Identity.Key()),
	)

	var errorResponse map[string]interface{}
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetError(&errorResponse).
		Post(p.endpoint)

	if err != nil {
		return fmt.Errorf("%w: pagerduty %s for %s: %v", sink.ErrUnavailable, action.Kind, action.DedupKey, err)
	}
	if !resp.IsSuccess() {
		p.logger.Error("pagerduty returned error",
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("dedupKey", action.DedupKey),
			zap.Any("error", errorResponse),
		)
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != 429 {
			return fmt.Errorf("%w: pagerduty status %d: %s", sink.ErrRejected, resp.StatusCode(), resp.String())
		}
		return fmt.Errorf("%w: pagerduty status %d", sink.ErrUnavailable, resp.StatusCode())
	}

	p.logger.Info("pagerduty event accepted",
		zap.String("action", string(action.Kind)),
		zap.String("dedupKey", action.DedupKey),
		zap.Int("statusCode", resp.StatusCode()),
	)
	return nil
}
