package ddbstore

import (
	"context"
	"fmt"

	"github.com/acksell/entities/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func valueName(property string) expression.NameBuilder {
	return expression.Name(attrValue).AppendName(expression.NameNoDotSplit(property))
}

// filter translates a store condition into a DynamoDB filter expression.
func filter(c store.Condition) (expression.ConditionBuilder, bool, error) {
	var (
		out expression.ConditionBuilder
		set bool
	)
	for _, cl := range c {
		av, err := marshalOperand(cl.Operand)
		if err != nil {
			return out, false, fmt.Errorf("marshal operand of %q: %w", cl.Property, err)
		}
		name, val := valueName(cl.Property), expression.Value(av)
		var cond expression.ConditionBuilder
		switch cl.Operator {
		case store.OpEqual:
			cond = expression.Equal(name, val)
		case store.OpNotEqual, store.OpNotEqualAlt:
			cond = expression.And(expression.AttributeExists(name), expression.NotEqual(name, val))
		case store.OpLess:
			cond = expression.LessThan(name, val)
		case store.OpLessEqual:
			cond = expression.LessThanEqual(name, val)
		case store.OpGreater:
			cond = expression.GreaterThan(name, val)
		case store.OpGreaterEqual:
			cond = expression.GreaterThanEqual(name, val)
		default:
			return out, false, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidCondition, cl.Operator)
		}
		if set {
			out = out.And(cond)
		} else {
			out, set = cond, true
		}
	}
	return out, set, nil
}

// Scan reads every matching item, then orders and pages them. A partition key
// filter turns the scan into a query of that partition.
func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}
	cond, hasFilter, err := filter(req.Condition)
	if err != nil {
		return nil, err
	}
	if req.PartitionKey == nil && req.RowKey != nil {
		rk := expression.Equal(expression.Name(attrRowKey), expression.Value(*req.RowKey))
		if hasFilter {
			cond = rk.And(cond)
		} else {
			cond, hasFilter = rk, true
		}
	}

	b := expression.NewBuilder()
	if hasFilter {
		b = b.WithFilter(cond)
	}
	if req.PartitionKey != nil {
		key := expression.Key(attrPartitionKey).Equal(expression.Value(*req.PartitionKey))
		if req.RowKey != nil {
			key = key.And(expression.Key(attrRowKey).Equal(expression.Value(*req.RowKey)))
		}
		b = b.WithKeyCondition(key)
	}
	e, err := b.Build()
	if err != nil && req.PartitionKey == nil && !hasFilter {
		// an empty builder fails to build; scan everything
		e, err = expression.Expression{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	var items []map[string]types.AttributeValue
	if req.PartitionKey != nil {
		items, err = t.query(ctx, e)
	} else {
		items, err = t.scan(ctx, e)
	}
	if err != nil {
		return nil, err
	}

	rows := make([]store.Row, 0, len(items))
	for _, item := range items {
		row, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}
	return store.Paginate(rows, req), nil
}

func (t *Table) query(ctx context.Context, e expression.Expression) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.physical),
		KeyConditionExpression:    e.KeyCondition(),
		FilterExpression:          e.Filter(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
		ConsistentRead:            aws.Bool(true),
	}
	for {
		out, err := t.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (t *Table) scan(ctx context.Context, e expression.Expression) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(t.physical),
		FilterExpression:          e.Filter(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
		ConsistentRead:            aws.Bool(true),
	}
	for {
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
