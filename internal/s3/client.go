package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// maxDeleteBatch is the DeleteObjects per-request key limit.
const maxDeleteBatch = 1000

// API is the subset of the S3 client used here.
type API interface {
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	DeleteBucket(ctx context.Context, in *awss3.DeleteBucketInput, optFns ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error)
	ListObjectVersions(ctx context.Context, in *awss3.ListObjectVersionsInput, optFns ...func(*awss3.Options)) (*awss3.ListObjectVersionsOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
}

type Client struct {
	api     API
	presign *awss3.PresignClient
}

// New builds a client from an aws.Config. endpoint overrides the S3 endpoint
// for S3-compatible services; path-style addressing is used in that case.
func New(cfg aws.Config, endpoint string) *Client {
	c := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{api: c, presign: awss3.NewPresignClient(c)}
}

// NewWithAPI wraps an existing API implementation; presigning is unavailable.
func NewWithAPI(api API) *Client { return &Client{api: api} }

// Object is a listing entry. Prefix entries have IsPrefix set.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	IsPrefix     bool      `json:"isPrefix,omitempty"`
}

// UploadURL is a presigned PUT request.
type UploadURL struct {
	URL       string              `json:"url"`
	Method    string              `json:"method"`
	Headers   map[string][]string `json:"headers,omitempty"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// Exists reports whether the bucket exists and is reachable.
func (c *Client) Exists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if IsNoSuchBucket(err) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %s: %w", bucket, err)
}

// Empty deletes every object version and delete marker in the bucket.
// A missing bucket counts as empty.
func (c *Client) Empty(ctx context.Context, bucket string) (int, error) {
	deleted := 0
	in := &awss3.ListObjectVersionsInput{Bucket: aws.String(bucket)}
	for {
		page, err := c.api.ListObjectVersions(ctx, in)
		if err != nil {
			if IsNoSuchBucket(err) {
				return deleted, nil
			}
			return deleted, fmt.Errorf("list versions %s: %w", bucket, err)
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Versions)+len(page.DeleteMarkers))
		for _, v := range page.Versions {
			ids = append(ids, types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range page.DeleteMarkers {
			ids = append(ids, types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		for len(ids) > 0 {
			n := min(len(ids), maxDeleteBatch)
			if err := c.deleteBatch(ctx, bucket, ids[:n]); err != nil {
				return deleted, err
			}
			deleted += n
			ids = ids[n:]
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}
	return deleted, nil
}

func (c *Client) deleteBatch(ctx context.Context, bucket string, ids []types.ObjectIdentifier) error {
	out, err := c.api.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		if IsNoSuchBucket(err) {
			return nil
		}
		return fmt.Errorf("delete objects %s: %w", bucket, err)
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("delete objects %s: %d failed, first %s: %s",
			bucket, len(out.Errors), aws.ToString(e.Key), aws.ToString(e.Message))
	}
	return nil
}

// DeleteBucket removes an empty bucket. A missing bucket is not an error.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := c.api.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !IsNoSuchBucket(err) {
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}

// ListObjects lists keys under prefix. Without recursive, sub-prefixes are
// returned as IsPrefix entries.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) ([]Object, error) {
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if !recursive {
		in.Delimiter = aws.String("/")
	}
	var out []Object
	p := awss3.NewListObjectsV2Paginator(c.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, Object{Key: aws.ToString(cp.Prefix), IsPrefix: true})
		}
		for _, o := range page.Contents {
			out = append(out, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				ETag:         strings.Trim(aws.ToString(o.ETag), `"`),
			})
		}
	}
	return out, nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return err
}

func (c *Client) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := c.api.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + url.PathEscape(srcKey)),
	})
	return err
}

func (c *Client) MoveObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if err := c.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey); err != nil {
		return err
	}
	return c.DeleteObject(ctx, srcBucket, srcKey)
}

// PresignUpload returns a PUT URL valid for ttl.
func (c *Client) PresignUpload(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (*UploadURL, error) {
	if c.presign == nil {
		return nil, errors.New("presigning not configured")
	}
	in := &awss3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	req, err := c.presign.PresignPutObject(ctx, in, awss3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return &UploadURL{URL: req.URL, Method: req.Method, Headers: req.SignedHeader, ExpiresAt: time.Now().Add(ttl)}, nil
}

// IsNoSuchBucket reports whether err means the bucket does not exist.
func IsNoSuchBucket(err error) bool {
	if err == nil {
		return false
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchBucket", "NotFound":
			return true
		}
	}
	return containsNoSuchBucket(err.Error())
}

// containsNoSuchBucket reports whether the error message indicates the bucket is missing.
func containsNoSuchBucket(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "nosuchbucket") || strings.Contains(m, "bucket does not exist")
}
