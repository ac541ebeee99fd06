package awsclient

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantConfigDoesNotMutateBase(t *testing.T) {
	base := aws.Config{Region: "us-east-1"}

	a := TenantConfig(base, Credentials{AccessKeyID: "AKIA1", SecretAccessKey: "s1", SessionToken: "t1"}, "eu-west-1")
	b := TenantConfig(base, Credentials{AccessKeyID: "AKIA2", SecretAccessKey: "s2", SessionToken: "t2"}, "ap-south-1")

	assert.Equal(t, "us-east-1", base.Region)
	assert.Nil(t, base.Credentials)
	assert.Equal(t, "eu-west-1", a.Region)
	assert.Equal(t, "ap-south-1", b.Region)

	ca, err := a.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	cb, err := b.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA1", ca.AccessKeyID)
	assert.Equal(t, "t1", ca.SessionToken)
	assert.Equal(t, "AKIA2", cb.AccessKeyID)
}
