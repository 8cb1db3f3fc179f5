package ddbstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/acksell/entities/store"
	"github.com/acksell/entities/store/storetest"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient answers each call with the matching func field.
type mockClient struct {
	getItem       func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem       func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	deleteItem    func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	query         func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	scan          func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	createTable   func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
	describeTable func(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
}

var _ Client = &mockClient{}

func (m *mockClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return m.getItem(in)
}

func (m *mockClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.putItem(in)
}

func (m *mockClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return m.deleteItem(in)
}

func (m *mockClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.query(in)
}

func (m *mockClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return m.scan(in)
}

func (m *mockClient) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return m.createTable(in)
}

func (m *mockClient) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return m.describeTable(in)
}

func testItem(t *testing.T, pk, rk, etag string) map[string]types.AttributeValue {
	t.Helper()
	tbl := &Table{}
	item, err := tbl.toItem(pk, rk, store.Value{"n": json.Number("7"), "name": "x"}, etag, 2)
	require.NoError(t, err)
	return item
}

func newTable(t *testing.T, c Client, opts Options) store.Table {
	t.Helper()
	tbl, err := New(c, opts, "widgets_entities").Table("widgets_entities")
	require.NoError(t, err)
	return tbl
}

func TestItemRoundTrip(t *testing.T) {
	row, err := fromItem(testItem(t, "p", "r", "e1"))
	require.NoError(t, err)
	assert.Equal(t, "p", row.PartitionKey)
	assert.Equal(t, "r", row.RowKey)
	assert.Equal(t, "e1", row.ETag)
	assert.Equal(t, 2, row.Version)
	assert.Equal(t, json.Number("7"), row.Value["n"])
	assert.Equal(t, "x", row.Value["name"])

	item := testItem(t, "p", "r", "e1")
	delete(item, attrETag)
	_, err = fromItem(item)
	require.Error(t, err)
}

func TestTable_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		var got *dynamodb.GetItemInput
		c := &mockClient{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			got = in
			return &dynamodb.GetItemOutput{Item: testItem(t, "p", "r", "e1")}, nil
		}}
		row, err := newTable(t, c, Options{TablePrefix: "dev-"}).Load(ctx, "p", "r")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "e1", row.ETag)
		assert.Equal(t, "dev-widgets_entities", aws.ToString(got.TableName))
		assert.True(t, aws.ToBool(got.ConsistentRead))
	})

	t.Run("missing", func(t *testing.T) {
		c := &mockClient{getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		}}
		row, err := newTable(t, c, Options{}).Load(ctx, "p", "r")
		require.NoError(t, err)
		assert.Nil(t, row)
	})
}

func TestTable_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional unless overwrite", func(t *testing.T) {
		var inputs []*dynamodb.PutItemInput
		c := &mockClient{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			inputs = append(inputs, in)
			return &dynamodb.PutItemOutput{}, nil
		}}
		tbl := newTable(t, c, Options{})
		etag, err := tbl.Create(ctx, "p", "r", store.Value{"a": "b"}, false, 1)
		require.NoError(t, err)
		assert.NotEmpty(t, etag)
		_, err = tbl.Create(ctx, "p", "r", store.Value{"a": "b"}, true, 1)
		require.NoError(t, err)

		require.Len(t, inputs, 2)
		assert.NotNil(t, inputs[0].ConditionExpression)
		assert.Nil(t, inputs[1].ConditionExpression)
		assert.Equal(t, &types.AttributeValueMemberS{Value: etag}, inputs[0].Item[attrETag])
	})

	t.Run("existing row", func(t *testing.T) {
		c := &mockClient{putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		}}
		_, err := newTable(t, c, Options{}).Create(ctx, "p", "r", store.Value{}, false, 1)
		assert.Equal(t, store.CodeUniqueViolation, store.CodeOf(err))
	})

	t.Run("item too large", func(t *testing.T) {
		c := &mockClient{putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "Item size has exceeded the maximum allowed size"}
		}}
		_, err := newTable(t, c, Options{}).Create(ctx, "p", "r", store.Value{}, false, 1)
		assert.Equal(t, store.CodeValueTooLarge, store.CodeOf(err))
	})

	t.Run("MaxValueBytes", func(t *testing.T) {
		c := &mockClient{putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			t.Fatal("no write expected")
			return nil, nil
		}}
		_, err := newTable(t, c, Options{MaxValueBytes: 8}).Create(ctx, "p", "r", store.Value{"long": "0123456789"}, false, 1)
		assert.Equal(t, store.CodeValueTooLarge, store.CodeOf(err))
	})
}

func TestTable_Modify(t *testing.T) {
	ctx := context.Background()
	for name, tc := range map[string]struct {
		err  error
		code string
	}{
		"success": {},
		"stale": {
			err:  &types.ConditionalCheckFailedException{Item: map[string]types.AttributeValue{attrETag: &types.AttributeValueMemberS{Value: "other"}}},
			code: store.CodeAssertFailure,
		},
		"missing": {
			err:  &types.ConditionalCheckFailedException{},
			code: store.CodeNoDataFound,
		},
	} {
		t.Run(name, func(t *testing.T) {
			var got *dynamodb.PutItemInput
			c := &mockClient{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
				got = in
				return &dynamodb.PutItemOutput{}, tc.err
			}}
			etag, err := newTable(t, c, Options{}).Modify(ctx, "p", "r", store.Value{"n": 1}, 1, "e1")
			require.NotNil(t, got)
			assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, got.ReturnValuesOnConditionCheckFailure)
			assert.Contains(t, got.ExpressionAttributeValues, ":0")
			if tc.code == "" {
				require.NoError(t, err)
				assert.NotEqual(t, "e1", etag)
				return
			}
			assert.Equal(t, tc.code, store.CodeOf(err))
		})
	}
}

func TestTable_Remove(t *testing.T) {
	ctx := context.Background()
	found := true
	c := &mockClient{deleteItem: func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
		assert.Equal(t, types.ReturnValueAllOld, in.ReturnValues)
		if !found {
			return &dynamodb.DeleteItemOutput{}, nil
		}
		return &dynamodb.DeleteItemOutput{Attributes: testItem(t, "p", "r", "e1")}, nil
	}}
	tbl := newTable(t, c, Options{})

	row, err := tbl.Remove(ctx, "p", "r")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "e1", row.ETag)

	found = false
	row, err = tbl.Remove(ctx, "p", "r")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestTable_Scan(t *testing.T) {
	ctx := context.Background()

	t.Run("query follows pages then orders", func(t *testing.T) {
		var calls []*dynamodb.QueryInput
		c := &mockClient{query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			cp := *in
			calls = append(calls, &cp)
			if in.ExclusiveStartKey == nil {
				return &dynamodb.QueryOutput{
					Items:            []map[string]types.AttributeValue{testItem(t, "p", "c", "e3"), testItem(t, "p", "a", "e1")},
					LastEvaluatedKey: keyOf("p", "a"),
				}, nil
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{testItem(t, "p", "b", "e2")}}, nil
		}}
		pk := "p"
		rows, err := newTable(t, c, Options{}).Scan(ctx, store.ScanRequest{
			PartitionKey: &pk,
			Condition:    store.Condition{{Property: "name", Operator: "=", Operand: "x"}},
			PageSize:     2,
			Page:         1,
		})
		require.NoError(t, err)
		require.Len(t, calls, 2)
		assert.NotNil(t, calls[0].KeyConditionExpression)
		assert.NotNil(t, calls[0].FilterExpression)
		require.Len(t, rows, 2)
		assert.Equal(t, "a", rows[0].RowKey)
		assert.Equal(t, "b", rows[1].RowKey)
	})

	t.Run("scan without filter", func(t *testing.T) {
		var got *dynamodb.ScanInput
		c := &mockClient{scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			got = in
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{testItem(t, "q", "a", "e1"), testItem(t, "p", "a", "e2")}}, nil
		}}
		rows, err := newTable(t, c, Options{}).Scan(ctx, store.ScanRequest{})
		require.NoError(t, err)
		assert.Nil(t, got.FilterExpression)
		require.Len(t, rows, 2)
		assert.Equal(t, "p", rows[0].PartitionKey)
	})

	t.Run("row key filter without partition", func(t *testing.T) {
		var got *dynamodb.ScanInput
		c := &mockClient{scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			got = in
			return &dynamodb.ScanOutput{}, nil
		}}
		rk := "a"
		_, err := newTable(t, c, Options{}).Scan(ctx, store.ScanRequest{RowKey: &rk})
		require.NoError(t, err)
		require.NotNil(t, got.FilterExpression)
		assert.Contains(t, got.ExpressionAttributeNames, "#0")
	})

	t.Run("dotted property names one attribute", func(t *testing.T) {
		var got *dynamodb.ScanInput
		c := &mockClient{scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			got = in
			return &dynamodb.ScanOutput{}, nil
		}}
		_, err := newTable(t, c, Options{}).Scan(ctx, store.ScanRequest{
			Condition: store.Condition{{Property: "image.tag", Operator: "=", Operand: "latest"}},
		})
		require.NoError(t, err)
		require.NotNil(t, got.FilterExpression)
		var names []string
		for _, n := range got.ExpressionAttributeNames {
			names = append(names, n)
		}
		assert.ElementsMatch(t, []string{attrValue, "image.tag"}, names)
		assert.Equal(t, 1, strings.Count(*got.FilterExpression, "."))
	})

	t.Run("invalid condition", func(t *testing.T) {
		_, err := newTable(t, &mockClient{}, Options{}).Scan(ctx, store.ScanRequest{
			Condition: store.Condition{{Property: "n", Operator: "like", Operand: 1}},
		})
		require.ErrorIs(t, err, store.ErrInvalidCondition)
	})

	t.Run("client error", func(t *testing.T) {
		boom := errors.New("boom")
		c := &mockClient{scan: func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error) { return nil, boom }}
		_, err := newTable(t, c, Options{}).Scan(ctx, store.ScanRequest{})
		require.ErrorIs(t, err, boom)
	})
}

func TestStore_Migrate(t *testing.T) {
	var created []string
	c := &mockClient{
		createTable: func(in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
			name := aws.ToString(in.TableName)
			if name == "x-b_entities" {
				return nil, &types.ResourceInUseException{}
			}
			created = append(created, name)
			assert.Equal(t, types.BillingModePayPerRequest, in.BillingMode)
			require.Len(t, in.KeySchema, 2)
			return &dynamodb.CreateTableOutput{}, nil
		},
		describeTable: func(in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
			return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
				TableName:   in.TableName,
				TableStatus: types.TableStatusActive,
			}}, nil
		},
	}
	s := New(c, Options{TablePrefix: "x-"}, "a_entities", "b_entities", "a_entities")
	require.NoError(t, s.Migrate(context.Background()))
	assert.Equal(t, []string{"x-a_entities"}, created)
}

// Runs the conformance suite against DynamoDB Local when
// ENTITIES_TEST_DYNAMODB_ENDPOINT is set.
func TestConformance(t *testing.T) {
	endpoint := os.Getenv("ENTITIES_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("ENTITIES_TEST_DYNAMODB_ENDPOINT is not set")
	}
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion("us-east-1"))
	require.NoError(t, err)
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	storetest.Run(t, func(t *testing.T, tables ...string) store.Store {
		s := New(client, Options{TablePrefix: "conformance-" + uuid.NewString() + "-"}, tables...)
		require.NoError(t, s.Migrate(ctx))
		return s
	})
}
