package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudroutes/core/store"
)

// fakeDynamo understands exactly the requests the driver sends
type fakeDynamo struct {
	mutex    sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int
	queries  int
	err      error
}

func newFake() *fakeDynamo {
	return &fakeDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func s(av types.AttributeValue) string {
	return av.(*types.AttributeValueMemberS).Value
}

func itemKey(item map[string]types.AttributeValue) string {
	return s(item[PartitionKey]) + "|" + s(item[SortKey])
}

func (f *fakeDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		f.tables[name] = t
	}
	return t
}

func conditionFails(cond *string, exists bool) bool {
	if cond == nil {
		return false
	}
	if strings.Contains(*cond, "attribute_not_exists") {
		return exists
	}
	if strings.Contains(*cond, "attribute_exists") {
		return !exists
	}
	return false
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.table(aws.ToString(in.TableName))[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := f.table(aws.ToString(in.TableName))
	_, exists := t[itemKey(in.Item)]
	if conditionFails(in.ConditionExpression, exists) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	t[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := f.table(aws.ToString(in.TableName))
	_, exists := t[itemKey(in.Key)]
	if conditionFails(in.ConditionExpression, exists) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(t, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	var partition string
	for _, v := range in.ExpressionAttributeValues {
		partition = s(v)
	}
	var keys []string
	for k, item := range f.table(aws.ToString(in.TableName)) {
		if s(item[PartitionKey]) == partition {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if in.ExclusiveStartKey != nil {
		start := itemKey(in.ExclusiveStartKey)
		i := sort.SearchStrings(keys, start)
		if i < len(keys) && keys[i] == start {
			i++
		}
		keys = keys[i:]
	}
	out := &dynamodb.QueryOutput{}
	for i, k := range keys {
		if i == f.pageSize {
			last := out.Items[len(out.Items)-1]
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				PartitionKey: last[PartitionKey],
				SortKey:      last[SortKey],
			}
			break
		}
		out.Items = append(out.Items, f.tables[aws.ToString(in.TableName)][k])
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *fakeDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	f.table(name)
	return &dynamodb.CreateTableOutput{}, nil
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	users := New(fake).Collection("crm", "users")

	doc, err := store.DocumentFromJSON([]byte(`{"name":"Ann","age":42,"tags":["a","b"],"address":{"city":"Oslo"}}`))
	require.NoError(t, err)
	id, err := users.Insert(ctx, doc)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := users.FetchByID(ctx, id)
	require.NoError(t, err)
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"`+id+`","name":"Ann","age":42,"tags":["a","b"],"address":{"city":"Oslo"}}`, string(data))

	replaced, err := users.Replace(ctx, id, store.Document{"name": "Ann2"})
	require.NoError(t, err)
	assert.Equal(t, store.Document{"_id": id, "name": "Ann2"}, replaced)

	deleted, err := users.DeleteByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, deleted)

	_, err = users.FetchByID(ctx, id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = users.Replace(ctx, id, store.Document{"name": "Ghost"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = users.DeleteByID(ctx, id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Empty(t, fake.tables["crm"], "a failed replace must not create the record")
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	users := New(newFake()).Collection("crm", "users")

	id, err := users.Insert(ctx, store.Document{"_id": "ann", "name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "ann", id)
	_, err = users.Insert(ctx, store.Document{"_id": "ann"})
	assert.True(t, errors.Is(err, store.ErrDuplicateKey))

	_, err = users.FetchByID(ctx, "")
	assert.True(t, errors.Is(err, store.ErrMalformedKey))
	_, err = users.FetchByID(ctx, strings.Repeat("k", maxKeyLength+1))
	assert.True(t, errors.Is(err, store.ErrMalformedKey))
}

func TestFetchAllPaginates(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	d := New(fake)
	users := d.Collection("crm", "users")
	devices := d.Collection("crm", "devices")

	const n = 5
	for i := 0; i < n; i++ {
		_, err := users.Insert(ctx, store.Document{"_id": fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
	}
	_, err := devices.Insert(ctx, store.Document{"_id": "d0"})
	require.NoError(t, err)

	all, err := users.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, n)
	for i, doc := range all {
		assert.Equal(t, fmt.Sprintf("u%d", i), doc.Key())
		_, hasPartition := doc[PartitionKey]
		assert.False(t, hasPartition)
	}
	assert.Equal(t, 3, fake.queries, "five items in pages of two")
}

func TestUnavailable(t *testing.T) {
	fake := newFake()
	users := New(fake).Collection("crm", "users")

	fake.err = &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	_, err := users.FetchByID(context.Background(), "ann")
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	fake.err = &types.ResourceNotFoundException{Message: aws.String("no table")}
	_, err = users.FetchAll(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestEnsureTable(t *testing.T) {
	fake := newFake()
	require.NoError(t, EnsureTable(context.Background(), fake, "crm"))
	require.NoError(t, EnsureTable(context.Background(), fake, "crm"))
	assert.Contains(t, fake.tables, "crm")
}
