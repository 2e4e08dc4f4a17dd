// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package s3store stores every document as a JSON object in an S3 bucket, under the key

	<keyPrefix><store>/<collection>/<id>.json

S3 has no conditional writes, so the duplicate check of Insert and the existence check of
Replace are not atomic with the write. Keys must not contain '/'.
*/
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/crudroutes/core/logger"
	"github.com/relabs-tech/crudroutes/core/store"
)

// API is the part of the S3 client the driver uses. The upload part is what the upload
// manager needs.
type API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Driver hands out collections stored in one bucket
type Driver struct {
	client    API
	uploader  *manager.Uploader
	bucket    string
	keyPrefix string
}

// New returns a driver for bucket. keyPrefix is prepended to every object key and may be empty.
func New(client API, bucket, keyPrefix string) (*Driver, error) {
	if bucket == "" {
		return nil, errors.New("bucket must not be empty")
	}
	return &Driver{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}, nil
}

// Collection returns the collection collectionName of store storeName
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	return &collection{Driver: d, prefix: d.keyPrefix + storeName + "/" + collectionName + "/"}
}

type collection struct {
	*Driver
	prefix string
}

const suffix = ".json"

var (
	errEmptyKey   = errors.New("empty key")
	errSlashInKey = errors.New("key contains '/'")
)

func (c *collection) objectKey(id string) (string, error) {
	if id == "" {
		return "", store.Malformed(id, errEmptyKey)
	}
	if strings.Contains(id, "/") {
		return "", store.Malformed(id, errSlashInKey)
	}
	return c.prefix + id + suffix, nil
}

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	var keys []string
	var continuationToken *string
	for {
		resp, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(c.prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Could not ListObjectsV2 from", c.bucket)
			return nil, classify("list", err)
		}
		for _, item := range resp.Contents {
			key := aws.ToString(item.Key)
			// objects of nested prefixes belong to somebody else
			if strings.HasSuffix(key, suffix) && !strings.Contains(strings.TrimPrefix(key, c.prefix), "/") {
				keys = append(keys, key)
			}
		}
		continuationToken = resp.NextContinuationToken
		if continuationToken == nil {
			break
		}
	}

	docs := make([]store.Document, 0, len(keys))
	for _, key := range keys {
		doc, err := c.get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			// deleted since listing
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	key, err := c.objectKey(id)
	if err != nil {
		return nil, err
	}
	doc, err := c.get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.NotFound(id)
	}
	return doc, err
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	id := doc.Key()
	if id == "" {
		id = uuid.New().String()
	}
	key, err := c.objectKey(id)
	if err != nil {
		return "", err
	}
	exists, err := c.exists(ctx, key)
	if err != nil {
		return "", classify("insert", err)
	}
	if exists {
		return "", store.Duplicate(id)
	}
	if _, err := c.put(ctx, key, doc.WithKey(id)); err != nil {
		return "", err
	}
	return id, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	key, err := c.objectKey(id)
	if err != nil {
		return nil, err
	}
	exists, err := c.exists(ctx, key)
	if err != nil {
		return nil, classify("update", err)
	}
	if !exists {
		return nil, store.NotFound(id)
	}
	data, err := c.put(ctx, key, doc.WithKey(id))
	if err != nil {
		return nil, err
	}
	return store.DocumentFromJSON(data)
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	key, err := c.objectKey(id)
	if err != nil {
		return "", err
	}
	exists, err := c.exists(ctx, key)
	if err != nil {
		return "", classify("delete", err)
	}
	if !exists {
		return "", store.NotFound(id)
	}
	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Could not delete", key)
		return "", classify("delete", err)
	}
	return id, nil
}

func (c *collection) get(ctx context.Context, key string) (store.Document, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify("read", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify("read", err)
	}
	return store.DocumentFromJSON(data)
}

func (c *collection) put(ctx context.Context, key string, doc store.Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, store.Invalid(err)
	}
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, classify("upload", err)
	}
	return data, nil
}

func (c *collection) exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var re *awshttp.ResponseError
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound) ||
		(errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound)
}

// classify maps server side and network failures to store.ErrUnavailable
func classify(op string, err error) error {
	var re *awshttp.ResponseError
	var netErr net.Error
	if (errors.As(err, &re) && re.HTTPStatusCode() >= 500) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
