package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"real-backend/infrastructure/messaging/eventbridge"
	apperrors "real-backend/pkg/errors"
)

type fakeConnections struct {
	mu            sync.Mutex
	connectionIDs []string
	queryErr      error
	deleted       []string
}

func (f *fakeConnections) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	items := make([]map[string]types.AttributeValue, 0, len(f.connectionIDs))
	for _, id := range f.connectionIDs {
		items = append(items, map[string]types.AttributeValue{
			"ConnectionID": &types.AttributeValueMemberS{Value: id},
		})
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeConnections) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	pk := params.Key["PK"].(*types.AttributeValueMemberS).Value
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

type fakePoster struct {
	mu     sync.Mutex
	errs    map[string]error
	frames  map[string][]byte
	bounded int
}

func (f *fakePoster) PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	id := aws.ToString(params.ConnectionId)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); ok {
		f.bounded++
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	if f.frames == nil {
		f.frames = map[string][]byte{}
	}
	f.frames[id] = params.Data
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func notification() eventbridge.Notification {
	return eventbridge.Notification{
		UserID:    "U2",
		Query:     "mutation TriggerChatMessageNotification",
		Variables: map[string]any{"input": map[string]any{"userId": "U2"}},
		SentAt:    time.Unix(1700000000, 0),
	}
}

func TestDeliverer_SendsToEveryConnection(t *testing.T) {
	conns := &fakeConnections{connectionIDs: []string{"c1", "c2"}}
	poster := &fakePoster{}
	d := NewDeliverer(conns, poster, Config{ConnectionsTable: "connections", ConnectionsUserIndex: "GSI1"}, zap.NewNop())

	require.NoError(t, d.Deliver(context.Background(), notification()))

	require.Len(t, poster.frames, 2)
	var msg Message
	require.NoError(t, json.Unmarshal(poster.frames["c1"], &msg))
	assert.Equal(t, eventbridge.DetailTypeRealtime, msg.Type)
	assert.Equal(t, int64(1700000000), msg.Timestamp)
	assert.Equal(t, "mutation TriggerChatMessageNotification", msg.Query)
}

func TestDeliverer_RemovesGoneConnections(t *testing.T) {
	conns := &fakeConnections{connectionIDs: []string{"c1", "c2"}}
	poster := &fakePoster{errs: map[string]error{"c1": &apigwTypes.GoneException{}}}
	d := NewDeliverer(conns, poster, Config{ConnectionsTable: "connections"}, zap.NewNop())

	require.NoError(t, d.Deliver(context.Background(), notification()))

	assert.Equal(t, []string{"CONNECTION#c1"}, conns.deleted)
	assert.Contains(t, poster.frames, "c2")
}

func TestDeliverer_Failures(t *testing.T) {
	t.Run("no recipient", func(t *testing.T) {
		d := NewDeliverer(&fakeConnections{}, &fakePoster{}, Config{}, zap.NewNop())
		err := d.Deliver(context.Background(), eventbridge.Notification{})
		assert.True(t, apperrors.IsDataIntegrity(err))
	})

	t.Run("no connections", func(t *testing.T) {
		d := NewDeliverer(&fakeConnections{}, &fakePoster{}, Config{}, zap.NewNop())
		assert.NoError(t, d.Deliver(context.Background(), notification()))
	})

	t.Run("query fails", func(t *testing.T) {
		d := NewDeliverer(&fakeConnections{queryErr: errors.New("throttled")}, &fakePoster{}, Config{}, zap.NewNop())
		assert.True(t, apperrors.IsTransient(d.Deliver(context.Background(), notification())))
	})

	t.Run("every send fails", func(t *testing.T) {
		poster := &fakePoster{errs: map[string]error{"c1": errors.New("boom"), "c2": errors.New("boom")}}
		d := NewDeliverer(&fakeConnections{connectionIDs: []string{"c1", "c2"}}, poster, Config{}, zap.NewNop())
		assert.True(t, apperrors.IsTransient(d.Deliver(context.Background(), notification())))
	})

	t.Run("partial failure is delivered", func(t *testing.T) {
		poster := &fakePoster{errs: map[string]error{"c1": errors.New("boom")}}
		d := NewDeliverer(&fakeConnections{connectionIDs: []string{"c1", "c2"}}, poster, Config{}, zap.NewNop())
		assert.NoError(t, d.Deliver(context.Background(), notification()))
	})
}

func TestDeliverer_BoundsEachSend(t *testing.T) {
	poster := &fakePoster{}
	d := NewDeliverer(&fakeConnections{connectionIDs: []string{"c1", "c2"}}, poster,
		Config{ConnectionsTable: "connections", CallTimeout: time.Second}, zap.NewNop())

	require.NoError(t, d.Deliver(context.Background(), notification()))
	assert.Equal(t, 2, poster.bounded)

	unbounded := &fakePoster{}
	d = NewDeliverer(&fakeConnections{connectionIDs: []string{"c1"}}, unbounded, Config{}, zap.NewNop())
	require.NoError(t, d.Deliver(context.Background(), notification()))
	assert.Zero(t, unbounded.bounded)
}
