// Package sqs ships user analytics events to an SQS queue consumed by the
// analytics pipeline.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"real-backend/domain/analytics"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/resilience"
)

// SQS limits SendMessageBatch to 10 entries
const batchSize = 10

// API is the subset of the SQS client used here.
type API interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Analytics implements ports.Analytics
type Analytics struct {
	client      API
	queueURL    string
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewAnalytics creates a new analytics sender
func NewAnalytics(client API, queueURL string, callTimeout time.Duration, logger *zap.Logger) *Analytics {
	return &Analytics{
		client:      client,
		queueURL:    queueURL,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// SendEvent derives one event per changed attribute and ships them
func (a *Analytics) SendEvent(ctx context.Context, userID string, newItem, oldItem stream.Item) error {
	evs := analytics.UserAttributeEvents(userID, newItem, oldItem)
	if len(evs) == 0 {
		return nil
	}

	for start := 0; start < len(evs); start += batchSize {
		end := start + batchSize
		if end > len(evs) {
			end = len(evs)
		}
		if err := a.sendBatch(ctx, evs[start:end]); err != nil {
			return err
		}
	}
	a.logger.Debug("Analytics events sent", zap.String("userID", userID), zap.Int("count", len(evs)))
	return nil
}

func (a *Analytics) sendBatch(ctx context.Context, evs []analytics.Event) error {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(evs))
	for i, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			return apperrors.NewDataIntegrityError(fmt.Sprintf("failed to encode %s", ev.Type), err)
		}
		entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				"eventType": {DataType: aws.String("String"), StringValue: aws.String(ev.Type)},
			},
		})
	}

	callCtx, cancel := resilience.WithCallTimeout(ctx, a.callTimeout)
	defer cancel()
	output, err := a.client.SendMessageBatch(callCtx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(a.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return apperrors.NewTransientError("sqs.SendMessageBatch", err)
	}
	if len(output.Failed) > 0 {
		for _, failed := range output.Failed {
			a.logger.Warn("Analytics event rejected",
				zap.String("id", aws.ToString(failed.Id)),
				zap.String("code", aws.ToString(failed.Code)),
				zap.Any("senderFault", failed.SenderFault),
			)
		}
		return apperrors.NewTransientError("sqs.SendMessageBatch",
			fmt.Errorf("%d of %d analytics events failed", len(output.Failed), len(entries)))
	}
	return nil
}
