// Package eventbridge publishes realtime notifications to an EventBridge bus
// for delivery over the websocket API.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/resilience"
)

const (
	// Source of every event published by the post-processor
	Source = "real.postprocessor"
	// DetailTypeRealtime is the detail type the websocket sender subscribes to
	DetailTypeRealtime = "RealtimeNotification"

	// EventBridge limits to 10 events per PutEvents call
	batchSize = 10
)

// Notification is the event detail.
type Notification struct {
	UserID    string         `json:"userId"`
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	SentAt    time.Time      `json:"sentAt"`
}

// API is the subset of the EventBridge client used here.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Realtime implements ports.Realtime
type Realtime struct {
	client       API
	eventBusName string
	callTimeout  time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewRealtime creates a new realtime publisher. Each PutEvents call is bounded
// by callTimeout.
func NewRealtime(client API, eventBusName string, callTimeout time.Duration, logger *zap.Logger) *Realtime {
	return &Realtime{
		client:       client,
		eventBusName: eventBusName,
		callTimeout:  callTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// RecipientOf reads input.userId from notification variables.
func RecipientOf(variables map[string]any) string {
	input, _ := variables["input"].(map[string]any)
	userID, _ := input["userId"].(string)
	return userID
}

// Send publishes one notification
func (r *Realtime) Send(ctx context.Context, query string, variables map[string]any) error {
	recipient := RecipientOf(variables)
	if recipient == "" {
		return apperrors.NewDataIntegrityError("realtime notification without recipient", nil)
	}
	return r.PublishBatch(ctx, []Notification{{
		UserID:    recipient,
		Query:     query,
		Variables: variables,
		SentAt:    r.now(),
	}})
}

// PublishBatch sends notifications in chunks of ten
func (r *Realtime) PublishBatch(ctx context.Context, notifications []Notification) error {
	for i := 0; i < len(notifications); i += batchSize {
		end := i + batchSize
		if end > len(notifications) {
			end = len(notifications)
		}
		if err := r.publishBatch(ctx, notifications[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Realtime) publishBatch(ctx context.Context, notifications []Notification) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(notifications))
	for _, n := range notifications {
		detail, err := json.Marshal(n)
		if err != nil {
			r.logger.Error("Failed to marshal notification", zap.String("userID", n.UserID), zap.Error(err))
			continue
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(r.eventBusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(DetailTypeRealtime),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(n.SentAt),
		})
	}
	if len(entries) == 0 {
		return nil
	}

	callCtx, cancel := resilience.WithCallTimeout(ctx, r.callTimeout)
	defer cancel()
	result, err := r.client.PutEvents(callCtx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return apperrors.NewTransientError("eventbridge.PutEvents", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil {
				r.logger.Warn("Failed to publish notification",
					zap.String("userID", notifications[i].UserID),
					zap.String("errorCode", aws.ToString(entry.ErrorCode)),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return apperrors.NewTransientError("eventbridge.PutEvents",
			fmt.Errorf("%d notifications failed to publish", result.FailedEntryCount))
	}

	r.logger.Debug("Notifications published",
		zap.Int("count", len(entries)),
		zap.String("eventBus", r.eventBusName),
	)
	return nil
}
