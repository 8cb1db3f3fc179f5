package ddbstore

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/acksell/entities/store"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item layout: the key attributes, the entity value as a map attribute, and
// the concurrency bookkeeping.
const (
	attrPartitionKey = "PartitionKey"
	attrRowKey       = "RowKey"
	attrValue        = "Value"
	attrETag         = "ETag"
	attrVersion      = "Version"
)

func keyOf(pk, rk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartitionKey: &types.AttributeValueMemberS{Value: pk},
		attrRowKey:       &types.AttributeValueMemberS{Value: rk},
	}
}

// toDynamo rewrites json.Number values as attributevalue.Number so they are
// marshaled as N rather than S.
func toDynamo(v any) any {
	switch x := v.(type) {
	case json.Number:
		return attributevalue.Number(x)
	case store.Value:
		return toDynamo(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toDynamo(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toDynamo(e)
		}
		return out
	}
	return v
}

func fromDynamo(v any) any {
	switch x := v.(type) {
	case attributevalue.Number:
		return json.Number(x)
	case map[string]any:
		for k, e := range x {
			x[k] = fromDynamo(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = fromDynamo(e)
		}
		return x
	}
	return v
}

func marshalOperand(v any) (types.AttributeValue, error) {
	return attributevalue.Marshal(toDynamo(v))
}

func (t *Table) toItem(pk, rk string, value store.Value, etag string, version int) (map[string]types.AttributeValue, error) {
	if value == nil {
		value = store.Value{}
	}
	if limit := t.opts.MaxValueBytes; limit > 0 {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		if len(b) > limit {
			return nil, store.ValueTooLarge(len(b), limit)
		}
	}
	av, err := attributevalue.Marshal(toDynamo(value))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value to dynamodb map: %w", err)
	}
	item := keyOf(pk, rk)
	item[attrValue] = av
	item[attrETag] = &types.AttributeValueMemberS{Value: etag}
	item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.Itoa(version)}
	return item, nil
}

func unmarshalAttr(item map[string]types.AttributeValue, name string, out any) error {
	av, ok := item[name]
	if !ok {
		return fmt.Errorf("item has no %s attribute", name)
	}
	return attributevalue.UnmarshalWithOptions(av, out, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
}

func fromItem(item map[string]types.AttributeValue) (*store.Row, error) {
	var (
		row   store.Row
		value map[string]any
	)
	for name, out := range map[string]any{
		attrPartitionKey: &row.PartitionKey,
		attrRowKey:       &row.RowKey,
		attrETag:         &row.ETag,
		attrVersion:      &row.Version,
		attrValue:        &value,
	} {
		if err := unmarshalAttr(item, name, out); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
	}
	if value == nil {
		value = map[string]any{}
	}
	row.Value = store.Value(fromDynamo(value).(map[string]any))
	return &row, nil
}
