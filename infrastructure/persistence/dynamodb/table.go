package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"real-backend/domain/keys"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/resilience"
)

// API is the subset of the DynamoDB client used by Table.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// TableConfig names the table and its secondary indexes
type TableConfig struct {
	TableName      string
	OwnerIndexName string
	ActorIndexName string
	// CallTimeout bounds each request. Zero leaves requests bounded only by
	// the caller's context.
	CallTimeout time.Duration
}

// Table implements ports.Table on the primary DynamoDB table. Every write is
// conditional so replayed records cannot corrupt counters or resurrect items.
type Table struct {
	client API
	config TableConfig
	logger *zap.Logger
}

// NewTable creates a new table adapter
func NewTable(client API, config TableConfig, logger *zap.Logger) *Table {
	return &Table{
		client: client,
		config: config,
		logger: logger,
	}
}

type itemKey struct {
	PartitionKey string `dynamodbav:"partitionKey"`
	SortKey      string `dynamodbav:"sortKey"`
}

func (t *Table) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return resilience.WithCallTimeout(ctx, t.config.CallTimeout)
}

func (t *Table) key(addr keys.Address) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.MarshalMap(itemKey{PartitionKey: addr.PK(), SortKey: addr.SK()})
	if err != nil {
		return nil, apperrors.NewProgrammerError("failed to marshal key", err)
	}
	return key, nil
}

// mapError classifies an SDK failure. Validation answers are data errors,
// everything else is transient.
func mapError(operation string, err error) error {
	if apperrors.Classify(err) == apperrors.ErrorTypeDataIntegrity {
		return apperrors.NewDataIntegrityError(operation+" rejected", err)
	}
	return apperrors.NewTransientError("dynamodb."+operation, err)
}

func conditionFailed(err error) (*types.ConditionalCheckFailedException, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf, true
	}
	return nil, false
}

func (t *Table) decode(operation string, item map[string]types.AttributeValue) (stream.Item, error) {
	out, err := stream.FromAttributeValues(item)
	if err != nil {
		return nil, apperrors.Wrapf(err, "%s: decode item", operation)
	}
	return out, nil
}

// GetItem reads a record with a strongly consistent read
func (t *Table) GetItem(ctx context.Context, addr keys.Address) (stream.Item, error) {
	key, err := t.key(addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := t.call(ctx)
	defer cancel()
	output, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.config.TableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError("GetItem", err)
	}
	if len(output.Item) == 0 {
		return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("no record at %s", addr), apperrors.ErrItemNotFound)
	}
	return t.decode("GetItem", output.Item)
}

// DecrementCount subtracts one from a counter that is above zero
func (t *Table) DecrementCount(ctx context.Context, addr keys.Address, attr string) (stream.Item, error) {
	update := expression.Add(expression.Name(attr), expression.Value(-1))
	condition := expression.AttributeExists(expression.Name(keys.AttrPartitionKey)).
		And(expression.Name(attr).GreaterThan(expression.Value(0)))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(condition).Build()
	if err != nil {
		return nil, apperrors.NewProgrammerError("failed to build decrement expression", err)
	}

	output, err := t.update(ctx, addr, expr, types.ReturnValueAllNew)
	if ccf, ok := conditionFailed(err); ok {
		if len(ccf.Item) == 0 {
			return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("cannot decrement %s on missing %s", attr, addr), apperrors.ErrItemNotFound)
		}
		return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("%s of %s is not positive", attr, addr), apperrors.ErrCounterFloor)
	}
	if err != nil {
		return nil, mapError("UpdateItem", err)
	}
	return t.decode("DecrementCount", output.Attributes)
}

// TransitionStatus moves attr from one value to another and stamps the
// cascade token in the same write
func (t *Table) TransitionStatus(ctx context.Context, addr keys.Address, attr, from, to, token string) (stream.Item, stream.Item, error) {
	update := expression.Set(expression.Name(attr), expression.Value(to)).
		Set(expression.Name(stream.AttrCascadeToken), expression.Value(token))
	condition := expression.Name(attr).Equal(expression.Value(from))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(condition).Build()
	if err != nil {
		return nil, nil, apperrors.NewProgrammerError("failed to build status expression", err)
	}

	output, err := t.update(ctx, addr, expr, types.ReturnValueAllOld)
	if _, ok := conditionFailed(err); ok {
		return nil, nil, apperrors.NewDataIntegrityError(
			fmt.Sprintf("%s of %s is not %s", attr, addr, from), apperrors.ErrConditionFailed)
	}
	if err != nil {
		return nil, nil, mapError("UpdateItem", err)
	}

	old, err := t.decode("TransitionStatus", output.Attributes)
	if err != nil {
		return nil, nil, err
	}
	updated := old.Clone()
	updated[attr] = to
	updated[stream.AttrCascadeToken] = token
	return old, updated, nil
}

// DeleteItem stamps the record with a delete token, then deletes it on the
// condition the token is still there
func (t *Table) DeleteItem(ctx context.Context, addr keys.Address, token string) (stream.Item, error) {
	update := expression.Set(expression.Name(stream.AttrCascadeDeleteToken), expression.Value(token))
	exists := expression.AttributeExists(expression.Name(keys.AttrPartitionKey))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(exists).Build()
	if err != nil {
		return nil, apperrors.NewProgrammerError("failed to build tag expression", err)
	}
	if _, err := t.update(ctx, addr, expr, types.ReturnValueNone); err != nil {
		if _, ok := conditionFailed(err); ok {
			return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("no record at %s", addr), apperrors.ErrItemNotFound)
		}
		return nil, mapError("UpdateItem", err)
	}

	key, err := t.key(addr)
	if err != nil {
		return nil, err
	}
	tagged := expression.Name(stream.AttrCascadeDeleteToken).Equal(expression.Value(token))
	condExpr, err := expression.NewBuilder().WithCondition(tagged).Build()
	if err != nil {
		return nil, apperrors.NewProgrammerError("failed to build delete expression", err)
	}

	deleteCtx, cancel := t.call(ctx)
	defer cancel()
	output, err := t.client.DeleteItem(deleteCtx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(t.config.TableName),
		Key:                       key,
		ConditionExpression:       condExpr.Condition(),
		ExpressionAttributeNames:  condExpr.Names(),
		ExpressionAttributeValues: condExpr.Values(),
		ReturnValues:              types.ReturnValueAllOld,
	})
	if _, ok := conditionFailed(err); ok {
		return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("%s changed before delete", addr), apperrors.ErrConditionFailed)
	}
	if err != nil {
		return nil, mapError("DeleteItem", err)
	}

	t.logger.Debug("Deleted record", zap.String("target", addr.String()))
	return t.decode("DeleteItem", output.Attributes)
}

func (t *Table) update(ctx context.Context, addr keys.Address, expr expression.Expression, returnValues types.ReturnValue) (*dynamodb.UpdateItemOutput, error) {
	key, err := t.key(addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := t.call(ctx)
	defer cancel()
	return t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(t.config.TableName),
		Key:                                 key,
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValues:                        returnValues,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
}

// QueryPartition lists every record of a partition
func (t *Table) QueryPartition(ctx context.Context, partitionKey string) ([]stream.Item, error) {
	keyCond := expression.Key(keys.AttrPartitionKey).Equal(expression.Value(partitionKey))
	return t.query(ctx, "", keyCond)
}

// QueryIndex lists every record whose index partition attribute equals value
func (t *Table) QueryIndex(ctx context.Context, index keys.Index, value string) ([]stream.Item, error) {
	indexName := t.config.OwnerIndexName
	if index == keys.IndexActor {
		indexName = t.config.ActorIndexName
	}
	keyCond := expression.Key(index.PartitionAttr()).Equal(expression.Value(value))
	return t.query(ctx, indexName, keyCond)
}

func (t *Table) query(ctx context.Context, indexName string, keyCond expression.KeyConditionBuilder) ([]stream.Item, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, apperrors.NewProgrammerError("failed to build key condition", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if indexName != "" {
		input.IndexName = aws.String(indexName)
	}

	var items []stream.Item
	paginator := dynamodb.NewQueryPaginator(t.client, input)
	for paginator.HasMorePages() {
		pageCtx, cancel := t.call(ctx)
		page, err := paginator.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, mapError("Query", err)
		}
		for _, raw := range page.Items {
			item, err := t.decode("Query", raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}
