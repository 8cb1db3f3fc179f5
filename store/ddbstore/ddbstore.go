// Package ddbstore implements store.Store on Amazon DynamoDB, the native home
// of the partition key / row key table model.
//
// Each entity table is a DynamoDB table keyed by PartitionKey (hash) and
// RowKey (range). Etag checks are condition expressions, so Modify is a
// single conditional write.
package ddbstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/acksell/entities/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Options configures a Store.
type Options struct {
	// TablePrefix is prepended to every table name, e.g. "staging-".
	TablePrefix string
	// MaxValueBytes rejects values whose JSON encoding is larger, before
	// DynamoDB's own item size limit applies. Zero means no extra limit.
	MaxValueBytes int
	// MigrateTimeout bounds the wait for created tables to become active.
	// Defaults to two minutes.
	MigrateTimeout time.Duration
	// Logger receives migration progress. Nil disables logging.
	Logger *log.Logger
}

// Store is a store.Store over a DynamoDB client.
type Store struct {
	client Client
	opts   Options
	tables map[string]*Table
	order  []string
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Migrator = (*Store)(nil)
)

// New registers tables on client.
func New(client Client, opts Options, tables ...string) *Store {
	if opts.MigrateTimeout <= 0 {
		opts.MigrateTimeout = 2 * time.Minute
	}
	s := &Store{client: client, opts: opts, tables: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		if _, dup := s.tables[name]; dup {
			continue
		}
		s.order = append(s.order, name)
		s.tables[name] = &Table{client: client, opts: opts, name: name, physical: opts.TablePrefix + name}
	}
	return s
}

func (s *Store) Table(name string) (store.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) Close() error { return nil }

// Migrate creates missing tables and waits until they are active.
func (s *Store) Migrate(ctx context.Context) error {
	for _, name := range s.order {
		physical := s.tables[name].physical
		_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(physical),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(attrPartitionKey), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(attrRowKey), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrPartitionKey), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrRowKey), KeyType: types.KeyTypeRange},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create table %s: %w", physical, err)
		}
		waiter := dynamodb.NewTableExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(physical)}, s.opts.MigrateTimeout); err != nil {
			return fmt.Errorf("wait for table %s: %w", physical, err)
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Printf("ddbstore: created table %s", physical)
		}
	}
	return nil
}

// Table is one DynamoDB table.
type Table struct {
	client   Client
	opts     Options
	name     string
	physical string
}

func (t *Table) Name() string { return t.name }

// translateErr maps DynamoDB's item size rejection to store.CodeValueTooLarge.
func translateErr(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) && ae.ErrorCode() == "ValidationException" &&
		strings.Contains(strings.ToLower(ae.ErrorMessage()), "size") {
		return &store.Error{Code: store.CodeValueTooLarge, Message: ae.ErrorMessage()}
	}
	return err
}

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.physical),
		Key:            keyOf(pk, rk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return fromItem(out.Item)
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	etag := store.NewETag()
	item, err := t.toItem(pk, rk, value, etag, version)
	if err != nil {
		return "", err
	}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.physical),
		Item:      item,
	}
	if !overwrite {
		e, err := expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name(attrPartitionKey))).
			Build()
		if err != nil {
			return "", fmt.Errorf("build: %w", err)
		}
		input.ConditionExpression = e.Condition()
		input.ExpressionAttributeNames = e.Names()
	}
	_, err = t.client.PutItem(ctx, input)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return "", store.RowExists(pk, rk)
	}
	if err != nil {
		return "", translateErr(err)
	}
	return etag, nil
}

func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	out, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.physical),
		Key:          keyOf(pk, rk),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return fromItem(out.Attributes)
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	etag := store.NewETag()
	item, err := t.toItem(pk, rk, value, etag, version)
	if err != nil {
		return "", err
	}
	e, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(attrPartitionKey)).
			And(expression.Equal(expression.Name(attrETag), expression.Value(expectedETag)))).
		Build()
	if err != nil {
		return "", fmt.Errorf("build: %w", err)
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(t.physical),
		Item:                                item,
		ConditionExpression:                 e.Condition(),
		ExpressionAttributeNames:            e.Names(),
		ExpressionAttributeValues:           e.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return "", store.RowMissing(pk, rk)
		}
		return "", store.StaleETag(pk, rk)
	}
	if err != nil {
		return "", translateErr(err)
	}
	return etag, nil
}
