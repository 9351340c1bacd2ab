package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
)

const codeConditionalCheckFailed = "ConditionalCheckFailed"

// maxTransactItems is the number of actions DynamoDB accepts in one
// transaction.
const maxTransactItems = 100

// targetChanges are the changes for one target. A transaction may touch an
// item only once, so they share a single update.
type targetChanges struct {
	target keys.Address
	attrs  []string
	deltas map[string]int64
}

func groupChanges(changes []ports.CounterChange) []*targetChanges {
	var groups []*targetChanges
	byTarget := make(map[string]*targetChanges)
	for _, change := range changes {
		if change.Delta == 0 {
			continue
		}
		g, ok := byTarget[change.Target.String()]
		if !ok {
			g = &targetChanges{target: change.Target, deltas: make(map[string]int64)}
			byTarget[change.Target.String()] = g
			groups = append(groups, g)
		}
		if _, seen := g.deltas[change.Attr]; !seen {
			g.attrs = append(g.attrs, change.Attr)
		}
		g.deltas[change.Attr] += change.Delta
	}
	return groups
}

func (g *targetChanges) increments() bool {
	for _, delta := range g.deltas {
		if delta > 0 {
			return true
		}
	}
	return false
}

// expression adds every delta on an existing item. Decrements carry a floor
// condition.
func (g *targetChanges) expression() (expression.Expression, error) {
	condition := expression.AttributeExists(expression.Name(keys.AttrPartitionKey))
	var update expression.UpdateBuilder
	for i, attr := range g.attrs {
		delta := g.deltas[attr]
		if i == 0 {
			update = expression.Add(expression.Name(attr), expression.Value(delta))
		} else {
			update = update.Add(expression.Name(attr), expression.Value(delta))
		}
		if delta < 0 {
			condition = condition.And(expression.Name(attr).GreaterThanEqual(expression.Value(-delta)))
		}
	}
	return expression.NewBuilder().WithUpdate(update).WithCondition(condition).Build()
}

// dropFloored removes the decrements the current item cannot absorb and
// reports whether any were removed.
func (g *targetChanges) dropFloored(current stream.Item, logger *zap.Logger) bool {
	kept := g.attrs[:0]
	dropped := false
	for _, attr := range g.attrs {
		delta := g.deltas[attr]
		if delta < 0 && current.Int(attr) < -delta {
			logger.Warn("Counter already at zero, not decrementing",
				zap.String("target", g.target.String()), zap.String("counter", attr))
			delete(g.deltas, attr)
			dropped = true
			continue
		}
		kept = append(kept, attr)
	}
	g.attrs = kept
	return dropped
}

func missingTargets(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return apperrors.NewDataIntegrityError(
		fmt.Sprintf("cannot count on missing %s", strings.Join(missing, ", ")), apperrors.ErrItemNotFound)
}

func cancellationReasons(err error) ([]types.CancellationReason, bool) {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		return canceled.CancellationReasons, true
	}
	return nil, false
}

func checkFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && aws.ToString(reasons[i].Code) == codeConditionalCheckFailed
}

// ApplyOnce stamps the record with mark and applies the changes in one
// transaction. A cancelled transaction is retried without the changes its
// cancellation reasons rule out, so a floor or a missing target never blocks
// the rest.
func (t *Table) ApplyOnce(ctx context.Context, record keys.Address, mark string, changes ...ports.CounterChange) (bool, error) {
	groups := groupChanges(changes)
	for _, g := range groups {
		if g.target == record {
			return false, apperrors.NewProgrammerError(
				fmt.Sprintf("%s cannot count on itself", record), apperrors.ErrInvariantBroken)
		}
	}

	logger := t.logger.With(zap.String("record", record.String()), zap.String("mark", mark))
	gated := mark != ""
	var missing []string
	for {
		limit := maxTransactItems
		if gated {
			limit--
		}
		batch, overflow := groups, []*targetChanges(nil)
		if len(batch) > limit {
			batch, overflow = groups[:limit], groups[limit:]
		}

		items := make([]types.TransactWriteItem, 0, len(batch)+1)
		if gated {
			item, err := t.markItem(record, mark)
			if err != nil {
				return false, err
			}
			items = append(items, item)
		}
		for _, g := range batch {
			item, err := t.changeItem(g)
			if err != nil {
				return false, err
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			return true, missingTargets(missing)
		}

		err := t.transact(ctx, items)
		if err == nil {
			if len(overflow) > 0 {
				logger.Warn("Counter changes exceed one transaction, applying the rest unmarked",
					zap.Int("unmarked", len(overflow)))
				if err := t.applyEach(ctx, overflow, &missing, logger); err != nil {
					return true, err
				}
			}
			return true, missingTargets(missing)
		}

		reasons, ok := cancellationReasons(err)
		if !ok {
			return false, mapError("TransactWriteItems", err)
		}

		offset := 0
		if gated {
			offset = 1
			if checkFailed(reasons, 0) {
				if len(reasons[0].Item) > 0 {
					logger.Debug("Counter changes already applied")
					return false, nil
				}
				logger.Debug("Record gone, applying counter changes unmarked")
				gated = false
				continue
			}
		}

		progressed := false
		next := make([]*targetChanges, 0, len(groups))
		for i, g := range groups {
			if i >= len(batch) || !checkFailed(reasons, i+offset) {
				next = append(next, g)
				continue
			}
			current := reasons[i+offset].Item
			if len(current) == 0 {
				logger.Warn("Counter target missing", zap.String("target", g.target.String()))
				if g.increments() {
					missing = append(missing, g.target.String())
				}
				progressed = true
				continue
			}
			item, err := t.decode("TransactWriteItems", current)
			if err != nil {
				return false, err
			}
			if g.dropFloored(item, logger) {
				progressed = true
			}
			if len(g.attrs) > 0 {
				next = append(next, g)
			}
		}
		if !progressed {
			return false, apperrors.NewTransientError("dynamodb.TransactWriteItems", err)
		}
		groups = next
	}
}

func (t *Table) markItem(record keys.Address, mark string) (types.TransactWriteItem, error) {
	name := expression.Name(stream.AttrAppliedMark)
	update := expression.Set(name, expression.Value(mark))
	condition := expression.AttributeExists(expression.Name(keys.AttrPartitionKey)).
		And(expression.Or(expression.AttributeNotExists(name), name.LessThan(expression.Value(mark))))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(condition).Build()
	if err != nil {
		return types.TransactWriteItem{}, apperrors.NewProgrammerError("failed to build mark expression", err)
	}
	return t.transactUpdate(record, expr)
}

func (t *Table) changeItem(g *targetChanges) (types.TransactWriteItem, error) {
	expr, err := g.expression()
	if err != nil {
		return types.TransactWriteItem{}, apperrors.NewProgrammerError("failed to build counter expression", err)
	}
	return t.transactUpdate(g.target, expr)
}

func (t *Table) transactUpdate(addr keys.Address, expr expression.Expression) (types.TransactWriteItem, error) {
	key, err := t.key(addr)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                           aws.String(t.config.TableName),
		Key:                                 key,
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}}, nil
}

func (t *Table) transact(ctx context.Context, items []types.TransactWriteItem) error {
	ctx, cancel := t.call(ctx)
	defer cancel()
	_, err := t.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

// applyEach writes the changes of each target on its own.
func (t *Table) applyEach(ctx context.Context, groups []*targetChanges, missing *[]string, logger *zap.Logger) error {
	for _, g := range groups {
		expr, err := g.expression()
		if err != nil {
			return apperrors.NewProgrammerError("failed to build counter expression", err)
		}
		_, err = t.update(ctx, g.target, expr, types.ReturnValueNone)
		ccf, failed := conditionFailed(err)
		switch {
		case failed && len(ccf.Item) == 0:
			logger.Warn("Counter target missing", zap.String("target", g.target.String()))
			if g.increments() {
				*missing = append(*missing, g.target.String())
			}
		case failed:
			logger.Warn("Counter already at zero, not decrementing", zap.String("target", g.target.String()))
		case err != nil:
			return mapError("UpdateItem", err)
		}
	}
	return nil
}
