package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"real-backend/domain/analytics"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.SendMessageBatchOutput)
	return out, args.Error(1)
}

const queueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/analytics"

func TestAnalytics_SendEvent(t *testing.T) {
	client := new(mockSQS)
	var sent *sqs.SendMessageBatchInput
	client.On("SendMessageBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*sqs.SendMessageBatchInput) }).
		Return(&sqs.SendMessageBatchOutput{}, nil).Once()

	old := stream.Item{"username": "old", "bio": "same"}
	updated := stream.Item{"username": "new", "bio": "same", "phoneNumber": "+15550100"}

	err := NewAnalytics(client, queueURL, 0, zap.NewNop()).SendEvent(context.Background(), "U", updated, old)
	require.NoError(t, err)

	require.NotNil(t, sent)
	assert.Equal(t, queueURL, aws.ToString(sent.QueueUrl))
	require.Len(t, sent.Entries, 2)

	var ev analytics.Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(sent.Entries[0].MessageBody)), &ev))
	assert.Equal(t, "UPDATE_USER_PHONE_NUMBER", ev.Type)
	assert.Equal(t, "U", ev.UserID)
	assert.Equal(t, "UPDATE_USER_USERNAME", aws.ToString(sent.Entries[1].MessageAttributes["eventType"].StringValue))
}

func TestAnalytics_NoChangesSendsNothing(t *testing.T) {
	client := new(mockSQS)
	item := stream.Item{"username": "same"}

	require.NoError(t, NewAnalytics(client, queueURL, 0, zap.NewNop()).SendEvent(context.Background(), "U", item, item))
	client.AssertNotCalled(t, "SendMessageBatch", mock.Anything, mock.Anything)
}

func TestAnalytics_BatchesOfTen(t *testing.T) {
	client := new(mockSQS)
	client.On("SendMessageBatch", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageBatchInput) bool {
		return len(in.Entries) == 10
	})).Return(&sqs.SendMessageBatchOutput{}, nil).Once()
	client.On("SendMessageBatch", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageBatchInput) bool {
		return len(in.Entries) == 1
	})).Return(&sqs.SendMessageBatchOutput{}, nil).Once()

	created := stream.Item{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		created[name] = name
	}

	require.NoError(t, NewAnalytics(client, queueURL, 0, zap.NewNop()).SendEvent(context.Background(), "U", created, nil))
	client.AssertExpectations(t)
}

func TestAnalytics_Failures(t *testing.T) {
	updated := stream.Item{"username": "new"}

	t.Run("call error", func(t *testing.T) {
		client := new(mockSQS)
		client.On("SendMessageBatch", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

		err := NewAnalytics(client, queueURL, 0, zap.NewNop()).SendEvent(context.Background(), "U", updated, nil)
		assert.True(t, apperrors.IsTransient(err))
	})

	t.Run("partial failure", func(t *testing.T) {
		client := new(mockSQS)
		client.On("SendMessageBatch", mock.Anything, mock.Anything).Return(&sqs.SendMessageBatchOutput{
			Failed: []sqstypes.BatchResultErrorEntry{{Id: aws.String("0"), Code: aws.String("InternalError")}},
		}, nil).Once()

		err := NewAnalytics(client, queueURL, 0, zap.NewNop()).SendEvent(context.Background(), "U", updated, nil)
		assert.True(t, apperrors.IsTransient(err))
	})
}

func TestAnalytics_BoundsEachCall(t *testing.T) {
	client := new(mockSQS)
	client.On("SendMessageBatch", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= time.Second
	}), mock.Anything).Return(&sqs.SendMessageBatchOutput{}, nil).Once()

	err := NewAnalytics(client, queueURL, time.Second, zap.NewNop()).
		SendEvent(context.Background(), "U", stream.Item{"username": "new"}, nil)

	require.NoError(t, err)
	client.AssertExpectations(t)
}
