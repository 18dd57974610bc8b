// Package storage archives run artifacts in S3 and reads result envelopes
// back from it.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/edge-vision/camctl/pkg/errors"
)

// API is the subset of the S3 client used here.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ErrObjectTooLarge is returned by ReadObject when an object exceeds the limit.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// Client provides S3 storage operations
type Client struct {
	s3Client API
	bucket   string
}

// NewClient creates a new S3 client using the default credential chain
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewFromAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewFromAPI wraps an existing S3 API implementation.
func NewFromAPI(api API, bucket string) *Client {
	return &Client{
		s3Client: api,
		bucket:   bucket,
	}
}

// Bucket returns the bucket this client operates on.
func (c *Client) Bucket() string {
	return c.bucket
}

// ObjectInfo describes a transferred object
type ObjectInfo struct {
	Key    string
	SHA256 string
	Size   int64
}

// Upload stores data under key and returns its checksum
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) (*ObjectInfo, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"sha256": checksum},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to upload object to S3")
	}

	slog.Info("s3_upload_complete", "s3_key", key, "size_bytes", len(data), "sha256", checksum[:16]+"...")

	return &ObjectInfo{
		Key:    key,
		SHA256: checksum,
		Size:   int64(len(data)),
	}, nil
}

// ReadObject returns the object body, refusing objects larger than maxBytes
// (no limit when maxBytes <= 0)
func (c *Client) ReadObject(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	var body io.Reader = result.Body
	if maxBytes > 0 {
		if result.ContentLength != nil && *result.ContentLength > maxBytes {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrObjectTooLarge, key, *result.ContentLength, maxBytes)
		}
		body = io.LimitReader(result.Body, maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read object body")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrObjectTooLarge, key, maxBytes)
	}

	slog.Debug("s3_read_complete", "s3_key", key, "size_bytes", len(data))
	return data, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Debug("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))

	return keys, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	return true, nil
}

// DeletePrefix removes every object under prefix and returns the deleted keys.
// Keys deleted before a failure are returned along with the error.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, fmt.Errorf("refusing to delete with an empty prefix")
	}

	keys, err := c.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}

	deleted := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}); err != nil {
			slog.Error("s3_delete_object_failed", "s3_key", key, "error", err)
			return deleted, errors.Wrapf(err, "failed to delete %s", key)
		}
		deleted = append(deleted, key)
	}

	slog.Info("s3_delete_complete", "prefix", prefix, "object_count", len(deleted))
	return deleted, nil
}
