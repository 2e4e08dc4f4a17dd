// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package dynamostore stores documents in DynamoDB.

A store is a table, a collection is a partition of that table. The table has the string
partition key "collection" and the string sort key "_id". Keys are arbitrary non-empty strings
of at most 1024 bytes.
*/
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/relabs-tech/crudroutes/core/store"
)

const (
	// PartitionKey is the attribute which holds the collection name
	PartitionKey = "collection"
	// SortKey is the attribute which holds the document key
	SortKey = store.KeyField

	maxKeyLength = 1024
)

// API is the part of the DynamoDB client the driver uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// TableAPI is the part of the DynamoDB client EnsureTable uses
type TableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Driver hands out collections stored in DynamoDB tables
type Driver struct {
	client API
}

// New returns a driver using client, typically a *dynamodb.Client
func New(client API) *Driver {
	return &Driver{client: client}
}

// EnsureTable creates the table for store storeName with on-demand billing. An existing
// table is not an error.
func EnsureTable(ctx context.Context, client TableAPI, storeName string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(storeName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(PartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(SortKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(PartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(SortKey), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return classify("create table", err)
	}
	return nil
}

// Collection returns the partition collectionName of table storeName
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	return &collection{client: d.client, table: storeName, name: collectionName}
}

type collection struct {
	client API
	table  string
	name   string
}

func (c *collection) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		PartitionKey: &types.AttributeValueMemberS{Value: c.name},
		SortKey:      &types.AttributeValueMemberS{Value: id},
	}
}

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(PartitionKey).Equal(expression.Value(c.name))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	paginator := dynamodb.NewQueryPaginator(c.client, &dynamodb.QueryInput{
		TableName:                 aws.String(c.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})
	docs := []store.Document{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", err)
		}
		for _, item := range page.Items {
			doc, err := c.decode(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	if err := validateKey(id); err != nil {
		return nil, err
	}
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            c.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("read", err)
	}
	if out.Item == nil {
		return nil, store.NotFound(id)
	}
	return c.decode(out.Item)
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	id := doc.Key()
	if id == "" {
		id = uuid.New().String()
	} else if err := validateKey(id); err != nil {
		return "", err
	}
	item, err := c.encode(id, doc)
	if err != nil {
		return "", err
	}
	err = c.put(ctx, item, expression.AttributeNotExists(expression.Name(SortKey)))
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return "", store.Duplicate(id)
	}
	if err != nil {
		return "", classify("insert", err)
	}
	return id, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	if err := validateKey(id); err != nil {
		return nil, err
	}
	item, err := c.encode(id, doc)
	if err != nil {
		return nil, err
	}
	err = c.put(ctx, item, expression.AttributeExists(expression.Name(SortKey)))
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("update", err)
	}
	return c.decode(item)
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	if err := validateKey(id); err != nil {
		return "", err
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(SortKey))).
		Build()
	if err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}
	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(c.table),
		Key:                      c.key(id),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return "", store.NotFound(id)
	}
	if err != nil {
		return "", classify("delete", err)
	}
	return id, nil
}

func (c *collection) put(ctx context.Context, item map[string]types.AttributeValue, cond expression.ConditionBuilder) error {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(c.table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	return err
}

// encode converts a document into an item of this collection
func (c *collection) encode(id string, doc store.Document) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(store.Normalize(doc.WithKey(id)))
	if err != nil {
		return nil, store.Invalid(err)
	}
	item[PartitionKey] = &types.AttributeValueMemberS{Value: c.name}
	return item, nil
}

// decode converts an item into a document, dropping the partition key
func (c *collection) decode(item map[string]types.AttributeValue) (store.Document, error) {
	var m map[string]interface{}
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, store.Invalid(err)
	}
	delete(m, PartitionKey)
	return store.Document(m), nil
}

var (
	errEmptyKey   = errors.New("empty key")
	errKeyTooLong = fmt.Errorf("key longer than %d bytes", maxKeyLength)
)

func validateKey(id string) error {
	if id == "" {
		return store.Malformed(id, errEmptyKey)
	}
	if len(id) > maxKeyLength {
		return store.Malformed(id[:16]+"...", errKeyTooLong)
	}
	return nil
}

// classify maps throttling, server side and network failures to store.ErrUnavailable
func classify(op string, err error) error {
	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	var netErr net.Error
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
