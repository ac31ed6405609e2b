package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCDN struct {
	enabled  bool
	missing  bool
	updates  int
	deletes  int
	lastEtag string
}

func (f *fakeCDN) GetDistributionConfig(_ context.Context, _ *cloudfront.GetDistributionConfigInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error) {
	if f.missing {
		return nil, &cftypes.NoSuchDistribution{Message: aws.String("gone")}
	}
	return &cloudfront.GetDistributionConfigOutput{
		ETag:               aws.String("E1"),
		DistributionConfig: &cftypes.DistributionConfig{Enabled: aws.Bool(f.enabled)},
	}, nil
}

func (f *fakeCDN) UpdateDistribution(_ context.Context, in *cloudfront.UpdateDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error) {
	f.updates++
	f.enabled = aws.ToBool(in.DistributionConfig.Enabled)
	return &cloudfront.UpdateDistributionOutput{ETag: aws.String("E2")}, nil
}

func (f *fakeCDN) GetDistribution(_ context.Context, _ *cloudfront.GetDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error) {
	return &cloudfront.GetDistributionOutput{Distribution: &cftypes.Distribution{Status: aws.String("Deployed")}}, nil
}

func (f *fakeCDN) DeleteDistribution(_ context.Context, in *cloudfront.DeleteDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error) {
	f.deletes++
	f.lastEtag = aws.ToString(in.IfMatch)
	return &cloudfront.DeleteDistributionOutput{}, nil
}

func TestDeleteDistribution_DisablesThenDeletes(t *testing.T) {
	f := &fakeCDN{enabled: true}
	require.NoError(t, deleteDistribution(context.Background(), f, "D1", 0))
	assert.Equal(t, 1, f.updates)
	assert.False(t, f.enabled)
	assert.Equal(t, 1, f.deletes)
	assert.Equal(t, "E2", f.lastEtag)
}

func TestDeleteDistribution_AlreadyDisabled(t *testing.T) {
	f := &fakeCDN{}
	require.NoError(t, deleteDistribution(context.Background(), f, "D1", 0))
	assert.Equal(t, 0, f.updates)
	assert.Equal(t, "E1", f.lastEtag)
}

func TestDeleteDistribution_MissingIsSuccess(t *testing.T) {
	f := &fakeCDN{missing: true}
	require.NoError(t, deleteDistribution(context.Background(), f, "D1", 0))
	assert.Equal(t, 0, f.deletes)
}

func TestIsStackMissing(t *testing.T) {
	missing := &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id StorageStack-x does not exist"}
	other := &smithy.GenericAPIError{Code: "ValidationError", Message: "bad template"}
	assert.True(t, isStackMissing(missing))
	assert.True(t, isStackMissing(errors.Join(errors.New("wrap"), missing)))
	assert.False(t, isStackMissing(other))
	assert.False(t, isStackMissing(errors.New("does not exist")))
}

func TestIsDistributionMissing(t *testing.T) {
	assert.True(t, isDistributionMissing(&cftypes.NoSuchDistribution{}))
	assert.True(t, isDistributionMissing(&smithy.GenericAPIError{Code: "NoSuchDistribution"}))
	assert.False(t, isDistributionMissing(errors.New("boom")))
}
