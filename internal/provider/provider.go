// Package provider wraps the cloud calls this service makes: stack inspection
// and deletion, bucket existence/emptying/deletion and CDN deletion.
package provider

import (
	"context"
	"time"

	"github.com/arencloud/depot/internal/s3"
)

// StackResource is one provider-side resource tracked by a stack.
type StackResource struct {
	LogicalID    string `json:"logicalId"`
	PhysicalID   string `json:"physicalId,omitempty"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`
}

// Stack is the live state of a provisioning stack.
type Stack struct {
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	StatusReason string            `json:"statusReason,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	Resources    []StackResource   `json:"resources,omitempty"`
}

// Stacks inspects and deletes provisioning stacks.
type Stacks interface {
	// DescribeStack returns nil, nil when no stack exists for the bucket.
	DescribeStack(ctx context.Context, objectStoreName, region string) (*Stack, error)
	DeleteStack(ctx context.Context, objectStoreName, region string) error
}

// ObjectStores manages buckets. Empty and Delete treat a missing bucket as success.
type ObjectStores interface {
	ObjectStoreExists(ctx context.Context, name, region string) (bool, error)
	EmptyObjectStore(ctx context.Context, name, region string) (int, error)
	DeleteObjectStore(ctx context.Context, name, region string) error
}

// Distributions deletes CDN distributions. A missing distribution is success.
type Distributions interface {
	DeleteDistribution(ctx context.Context, id string) error
}

// Objects is the file-level access used by the object endpoints.
type Objects interface {
	ListObjects(ctx context.Context, bucket, region, prefix string, recursive bool) ([]s3.Object, error)
	DeleteObject(ctx context.Context, bucket, region, key string) error
	MoveObject(ctx context.Context, bucket, region, srcKey, dstKey string) error
	PresignUpload(ctx context.Context, bucket, region, key, contentType string, ttl time.Duration) (*s3.UploadURL, error)
}

// Provider is everything the service needs from the cloud.
type Provider interface {
	Stacks
	ObjectStores
	Distributions
	Objects
}
