package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/smithy-go"
)

// cdnRegion is where CloudFront's global API is signed.
const cdnRegion = "us-east-1"

// AWSOptions configures the AWS provider.
type AWSOptions struct {
	DefaultRegion  string
	Endpoint       string // optional override for S3-compatible/local stacks
	AccessKey      string
	SecretKey      string
	CDNDisableWait time.Duration
}

// regional holds the per-region SDK clients.
type regional struct {
	cfn *cloudformation.Client
	s3  *s3.Client
}

// AWS implements Provider with CloudFormation, CloudFront and S3.
type AWS struct {
	opts AWSOptions

	mu      sync.Mutex
	regions map[string]*regional
	cdn     *cloudfront.Client
}

func NewAWS(opts AWSOptions) *AWS {
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = cdnRegion
	}
	if opts.CDNDisableWait <= 0 {
		opts.CDNDisableWait = 25 * time.Minute
	}
	return &AWS{opts: opts, regions: map[string]*regional{}}
}

func (a *AWS) loadConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if a.opts.AccessKey != "" && a.opts.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.opts.AccessKey, a.opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func (a *AWS) clients(ctx context.Context, region string) (*regional, error) {
	if region == "" {
		region = a.opts.DefaultRegion
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.regions[region]; ok {
		return r, nil
	}
	cfg, err := a.loadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	r := &regional{
		cfn: cloudformation.NewFromConfig(cfg, func(o *cloudformation.Options) {
			if a.opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(a.opts.Endpoint)
			}
		}),
		s3: s3.New(cfg, a.opts.Endpoint),
	}
	a.regions[region] = r
	return r, nil
}

func (a *AWS) cdnClient(ctx context.Context) (*cloudfront.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cdn != nil {
		return a.cdn, nil
	}
	cfg, err := a.loadConfig(ctx, cdnRegion)
	if err != nil {
		return nil, err
	}
	a.cdn = cloudfront.NewFromConfig(cfg, func(o *cloudfront.Options) {
		if a.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(a.opts.Endpoint)
		}
	})
	return a.cdn, nil
}

func (a *AWS) DescribeStack(ctx context.Context, objectStoreName, region string) (*Stack, error) {
	c, err := a.clients(ctx, region)
	if err != nil {
		return nil, err
	}
	name := models.StackName(objectStoreName)
	out, err := c.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if isStackMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe stack %s: %w", name, err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	s := out.Stacks[0]
	st := &Stack{
		Name:         aws.ToString(s.StackName),
		Status:       string(s.StackStatus),
		StatusReason: aws.ToString(s.StackStatusReason),
		Outputs:      map[string]string{},
	}
	for _, o := range s.Outputs {
		st.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	res, err := c.cfn.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{StackName: aws.String(name)})
	if err != nil {
		// the stack itself was found; a failed resource listing only loses detail
		return st, nil
	}
	for _, r := range res.StackResources {
		st.Resources = append(st.Resources, StackResource{
			LogicalID:    aws.ToString(r.LogicalResourceId),
			PhysicalID:   aws.ToString(r.PhysicalResourceId),
			Type:         aws.ToString(r.ResourceType),
			Status:       string(r.ResourceStatus),
			StatusReason: aws.ToString(r.ResourceStatusReason),
		})
	}
	return st, nil
}

func (a *AWS) DeleteStack(ctx context.Context, objectStoreName, region string) error {
	c, err := a.clients(ctx, region)
	if err != nil {
		return err
	}
	name := models.StackName(objectStoreName)
	if _, err := c.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(name)}); err != nil {
		return fmt.Errorf("delete stack %s: %w", name, err)
	}
	return nil
}

func (a *AWS) ObjectStoreExists(ctx context.Context, name, region string) (bool, error) {
	c, err := a.clients(ctx, region)
	if err != nil {
		return false, err
	}
	return c.s3.Exists(ctx, name)
}

func (a *AWS) EmptyObjectStore(ctx context.Context, name, region string) (int, error) {
	c, err := a.clients(ctx, region)
	if err != nil {
		return 0, err
	}
	return c.s3.Empty(ctx, name)
}

func (a *AWS) DeleteObjectStore(ctx context.Context, name, region string) error {
	c, err := a.clients(ctx, region)
	if err != nil {
		return err
	}
	return c.s3.DeleteBucket(ctx, name)
}

// DeleteDistribution disables the distribution if needed, waits for the change
// to deploy, then deletes it. CloudFront refuses to delete enabled distributions.
func (a *AWS) DeleteDistribution(ctx context.Context, id string) error {
	cf, err := a.cdnClient(ctx)
	if err != nil {
		return err
	}
	return deleteDistribution(ctx, cf, id, a.opts.CDNDisableWait)
}

// distributionAPI is the CloudFront subset used for deletion.
type distributionAPI interface {
	GetDistributionConfig(ctx context.Context, in *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	UpdateDistribution(ctx context.Context, in *cloudfront.UpdateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error)
	GetDistribution(ctx context.Context, in *cloudfront.GetDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error)
	DeleteDistribution(ctx context.Context, in *cloudfront.DeleteDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error)
}

func deleteDistribution(ctx context.Context, cf distributionAPI, id string, wait time.Duration) error {
	cfg, err := cf.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
	if err != nil {
		if isDistributionMissing(err) {
			return nil
		}
		return fmt.Errorf("get distribution config %s: %w", id, err)
	}
	etag := cfg.ETag
	if aws.ToBool(cfg.DistributionConfig.Enabled) {
		cfg.DistributionConfig.Enabled = aws.Bool(false)
		upd, err := cf.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 aws.String(id),
			IfMatch:            etag,
			DistributionConfig: cfg.DistributionConfig,
		})
		if err != nil {
			return fmt.Errorf("disable distribution %s: %w", id, err)
		}
		etag = upd.ETag
	}
	if wait > 0 {
		w := cloudfront.NewDistributionDeployedWaiter(cf)
		if err := w.Wait(ctx, &cloudfront.GetDistributionInput{Id: aws.String(id)}, wait); err != nil {
			return fmt.Errorf("wait for distribution %s to disable: %w", id, err)
		}
	}
	_, err = cf.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{Id: aws.String(id), IfMatch: etag})
	if err != nil && !isDistributionMissing(err) {
		return fmt.Errorf("delete distribution %s: %w", id, err)
	}
	return nil
}

func (a *AWS) ListObjects(ctx context.Context, bucket, region, prefix string, recursive bool) ([]s3.Object, error) {
	c, err := a.clients(ctx, region)
	if err != nil {
		return nil, err
	}
	return c.s3.ListObjects(ctx, bucket, prefix, recursive)
}

func (a *AWS) DeleteObject(ctx context.Context, bucket, region, key string) error {
	c, err := a.clients(ctx, region)
	if err != nil {
		return err
	}
	return c.s3.DeleteObject(ctx, bucket, key)
}

func (a *AWS) MoveObject(ctx context.Context, bucket, region, srcKey, dstKey string) error {
	c, err := a.clients(ctx, region)
	if err != nil {
		return err
	}
	return c.s3.MoveObject(ctx, bucket, srcKey, bucket, dstKey)
}

func (a *AWS) PresignUpload(ctx context.Context, bucket, region, key, contentType string, ttl time.Duration) (*s3.UploadURL, error) {
	c, err := a.clients(ctx, region)
	if err != nil {
		return nil, err
	}
	return c.s3.PresignUpload(ctx, bucket, key, contentType, ttl)
}

// isStackMissing matches CloudFormation's "Stack with id X does not exist".
func isStackMissing(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "ValidationError" && strings.Contains(ae.ErrorMessage(), "does not exist")
	}
	return false
}

func isDistributionMissing(err error) bool {
	var nsd *cftypes.NoSuchDistribution
	if errors.As(err, &nsd) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "NoSuchDistribution"
}
