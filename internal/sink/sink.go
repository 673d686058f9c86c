// Package sink delivers trigger/resolve events to incident destinations.
package sink

import (
	"context"
	"errors"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

var (
	// ErrUnavailable means the destination could not be reached or answered
	// with a retryable failure.
	ErrUnavailable = errors.New("alert sink unavailable")
	// ErrRejected means the destination refused the event (bad credentials,
	// malformed payload); retrying the same event will not help.
	ErrRejected = errors.New("alert sink rejected event")
)

// AlertSink delivers one alert action. Implementations must be idempotent
// under retry for the same dedup key and action kind, because a failed run
// re-attempts its undelivered actions on the next invocation.
type AlertSink interface {
	Send(ctx context.Context, action model.AlertAction) error
	Name() string
}

// Fanout delivers an action to every configured sink. An action only counts
// as delivered when all sinks accepted it; the coordinator rolls the state
// transition back otherwise, so a partially delivered action is re-sent to
// every sink next run and deduplicated by the destinations.
type Fanout struct {
	sinks []AlertSink
}

// NewFanout wraps a set of sinks as one.
func NewFanout(sinks ...AlertSink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Name() string { return "fanout" }

// Send forwards the action to each sink in order, returning the first error.
func (f *Fanout) Send(ctx context.Context, action model.AlertAction) error {
	for _, s := range f.sinks {
		if err := s.Send(ctx, action); err != nil {
			return err
		}
	}
	return nil
}
