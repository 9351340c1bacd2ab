// Package websocket delivers realtime notifications to the websocket
// connections of their recipient.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"real-backend/infrastructure/messaging/eventbridge"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/resilience"
)

// ConnectionsAPI is the subset of the DynamoDB client used for the
// connections table.
type ConnectionsAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// PostAPI is the subset of the API Gateway management client used here.
type PostAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// maxConcurrentSends bounds parallel PostToConnection calls per notification.
const maxConcurrentSends = 5

// Config names the connections table and bounds each request
type Config struct {
	ConnectionsTable     string
	ConnectionsUserIndex string
	CallTimeout          time.Duration
}

// Message is the frame sent to clients
type Message struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Query     string         `json:"query"`
	Data      map[string]any `json:"data"`
}

// Deliverer posts notifications to every live connection of the recipient
// and removes connections the API reports as gone.
type Deliverer struct {
	connections ConnectionsAPI
	post        PostAPI
	config      Config
	logger      *zap.Logger
}

// NewDeliverer creates a new deliverer
func NewDeliverer(connections ConnectionsAPI, post PostAPI, config Config, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		connections: connections,
		post:        post,
		config:      config,
		logger:      logger,
	}
}

// Deliver sends one notification. It fails only when every send failed.
func (d *Deliverer) Deliver(ctx context.Context, n eventbridge.Notification) error {
	if n.UserID == "" {
		return apperrors.NewDataIntegrityError("notification without recipient", nil)
	}

	connectionIDs, err := d.connectionsFor(ctx, n.UserID)
	if err != nil {
		return err
	}
	if len(connectionIDs) == 0 {
		d.logger.Debug("Recipient has no connections", zap.String("userID", n.UserID))
		return nil
	}

	frame, err := json.Marshal(Message{
		Type:      eventbridge.DetailTypeRealtime,
		Timestamp: n.SentAt.Unix(),
		Query:     n.Query,
		Data:      n.Variables,
	})
	if err != nil {
		return apperrors.NewDataIntegrityError("failed to encode frame", err)
	}

	sem := semaphore.NewWeighted(maxConcurrentSends)
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		sent, failed int
	)
	for _, connID := range connectionIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			defer sem.Release(1)

			err := d.send(ctx, connID, frame)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("Failed to send to connection", zap.String("connectionID", connID), zap.Error(err))
				failed++
				return
			}
			sent++
		}(connID)
	}
	wg.Wait()

	d.logger.Info("Notification delivered",
		zap.String("userID", n.UserID),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
	if failed > 0 && sent == 0 {
		return apperrors.NewTransientError("websocket.deliver", fmt.Errorf("all %d sends failed", failed))
	}
	return nil
}

func (d *Deliverer) connectionsFor(ctx context.Context, userID string) ([]string, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value("USER#" + userID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, apperrors.NewProgrammerError("failed to build key condition", err)
	}

	paginator := dynamodb.NewQueryPaginator(d.connections, &dynamodb.QueryInput{
		TableName:                 aws.String(d.config.ConnectionsTable),
		IndexName:                 aws.String(d.config.ConnectionsUserIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var ids []string
	for paginator.HasMorePages() {
		pageCtx, cancel := resilience.WithCallTimeout(ctx, d.config.CallTimeout)
		page, err := paginator.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, apperrors.NewTransientError("dynamodb.Query", err)
		}
		for _, item := range page.Items {
			if connID, ok := item["ConnectionID"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, connID.Value)
			}
		}
	}
	return ids, nil
}

func (d *Deliverer) send(ctx context.Context, connectionID string, frame []byte) error {
	callCtx, cancel := resilience.WithCallTimeout(ctx, d.config.CallTimeout)
	_, err := d.post.PostToConnection(callCtx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         frame,
	})
	cancel()
	if err == nil {
		return nil
	}

	var goneErr *apigwTypes.GoneException
	if errors.As(err, &goneErr) {
		d.logger.Info("Connection is gone, removing", zap.String("connectionID", connectionID))
		d.removeStale(ctx, connectionID)
		return nil
	}
	return err
}

func (d *Deliverer) removeStale(ctx context.Context, connectionID string) {
	ctx, cancel := resilience.WithCallTimeout(ctx, d.config.CallTimeout)
	defer cancel()
	_, err := d.connections.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.config.ConnectionsTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "CONNECTION#" + connectionID},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		d.logger.Warn("Failed to remove stale connection", zap.String("connectionID", connectionID), zap.Error(err))
	}
}
