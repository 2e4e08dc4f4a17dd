package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudroutes/core/store"
)

var errMultipart = errors.New("multipart uploads are not expected for documents")

// fakeS3 is a single bucket in memory
type fakeS3 struct {
	mutex    sync.Mutex
	objects  map[string][]byte
	pageSize int
	lists    int
	err      error
}

func newFake() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: 2}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.lists++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	out := &s3.ListObjectsV2Output{}
	for i := start; i < len(keys) && i < start+f.pageSize; i++ {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(keys[i])})
	}
	if start+f.pageSize < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(start + f.pageSize))
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newCollection(t *testing.T, fake *fakeS3, storeName, collectionName string) store.Collection {
	t.Helper()
	d, err := New(fake, "documents", "test/")
	require.NoError(t, err)
	return d.Collection(storeName, collectionName)
}

func TestNew(t *testing.T) {
	_, err := New(newFake(), "", "")
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	users := newCollection(t, fake, "crm", "users")

	id, err := users.Insert(ctx, store.Document{"name": "Ann"})
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "test/crm/users/"+id+".json")

	doc, err := users.FetchByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.Document{"_id": id, "name": "Ann"}, doc)

	replaced, err := users.Replace(ctx, id, store.Document{"name": "Ann2"})
	require.NoError(t, err)
	assert.Equal(t, store.Document{"_id": id, "name": "Ann2"}, replaced)

	deleted, err := users.DeleteByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, deleted)
	assert.Empty(t, fake.objects)

	_, err = users.FetchByID(ctx, id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = users.Replace(ctx, id, store.Document{"name": "Ghost"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Empty(t, fake.objects)
	_, err = users.DeleteByID(ctx, id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	users := newCollection(t, newFake(), "crm", "users")

	_, err := users.Insert(ctx, store.Document{"_id": "ann"})
	require.NoError(t, err)
	_, err = users.Insert(ctx, store.Document{"_id": "ann"})
	assert.True(t, errors.Is(err, store.ErrDuplicateKey))

	_, err = users.FetchByID(ctx, "a/b")
	assert.True(t, errors.Is(err, store.ErrMalformedKey))
	_, err = users.DeleteByID(ctx, "")
	assert.True(t, errors.Is(err, store.ErrMalformedKey))
}

func TestFetchAll(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	users := newCollection(t, fake, "crm", "users")
	for i := 0; i < 5; i++ {
		_, err := users.Insert(ctx, store.Document{"_id": fmt.Sprintf("u%d", i), "n": i})
		require.NoError(t, err)
	}
	_, err := newCollection(t, fake, "crm", "users2").Insert(ctx, store.Document{"_id": "x"})
	require.NoError(t, err)
	fake.objects["test/crm/users/nested/u9.json"] = []byte(`{"_id":"u9"}`)

	fake.lists = 0
	all, err := users.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, doc := range all {
		assert.Equal(t, fmt.Sprintf("u%d", i), doc.Key())
	}
	assert.Equal(t, 3, fake.lists)
}

func TestUnavailable(t *testing.T) {
	fake := newFake()
	users := newCollection(t, fake, "crm", "users")
	fake.err = context.DeadlineExceeded
	_, err := users.FetchAll(context.Background())
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	_, err = users.Insert(context.Background(), store.Document{})
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
