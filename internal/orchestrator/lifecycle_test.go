package orchestrator

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbroker/internal/awsfake"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/servers"
)

func TestGetServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)

	got, err := f.orch.GetServer(ctx, f.account.ID, "eu-west-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "running", got.State)

	_, err = f.orch.GetServer(ctx, f.account.ID, "eu-west-1", "i-missing")
	assert.ErrorIs(t, err, faults.ErrNotFound)

	// the same id in another region does not exist
	_, err = f.orch.GetServer(ctx, f.account.ID, "us-east-1", created.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestGetServerIgnoresForeignInstances(t *testing.T) {
	f := newFixture(t)
	f.ec2.AddInstance("eu-west-1", types.Instance{
		InstanceId: aws.String("i-foreign"),
		Tags:       (servers.Tags{Marker: "someone-else", Name: "db"}).Encode(),
	})

	_, err := f.orch.GetServer(context.Background(), f.account.ID, "eu-west-1", "i-foreign")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestGetServerStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)

	st, err := f.orch.GetServerStatus(ctx, f.account.ID, "eu-west-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "ok", State: "running"}, st)

	_, err = f.orch.GetServerStatus(ctx, f.account.ID, "eu-west-1", "i-missing")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestDeleteServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)

	require.NoError(t, f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID))

	ops := opNames(f.ec2.Ops())
	assert.Equal(t, []string{"TerminateInstances", "ReleaseAddress"}, ops[len(ops)-2:])
	assert.Equal(t, 0, f.ec2.LiveAddresses())

	_, err = f.orch.GetServer(ctx, f.account.ID, "eu-west-1", created.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)
	assert.Equal(t, "This server has been deleted", faults.UserMessage(err))
}

func TestDeleteServerReleaseFailureKeepsTermination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)
	f.ec2.FailAlways("ReleaseAddress", awsfake.APIError("AuthFailure", "denied"))

	err = f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID)
	require.Error(t, err)
	assert.Equal(t, types.InstanceStateNameTerminated, f.ec2.InstanceState(created.ID))
	assert.Equal(t, 1, f.ec2.LiveAddresses())
	assert.Len(t, f.notifier.resources, 1)
}

func TestDeleteServerTerminateFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)
	f.ec2.FailNext("TerminateInstances", awsfake.APIError("UnauthorizedOperation", "denied"))

	err = f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID)
	require.Error(t, err)
	assert.Equal(t, 1, f.ec2.LiveAddresses())
}

func countOps(ops []string, name string) int {
	n := 0
	for _, op := range opNames(ops) {
		if op == name {
			n++
		}
	}
	return n
}

func TestDeleteServerTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)

	require.NoError(t, f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID))
	require.NoError(t, f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID))

	assert.Equal(t, 1, countOps(f.ec2.Ops(), "TerminateInstances"))
	assert.Equal(t, 0, f.ec2.LiveAddresses())
	assert.Empty(t, f.notifier.resources)
}

func TestDeleteServerRetryReleasesAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.orch.CreateServer(ctx, f.request(servers.OnDemand))
	require.NoError(t, err)
	f.ec2.FailNext("ReleaseAddress", awsfake.APIError("AuthFailure", "denied"))

	require.Error(t, f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID))
	require.Equal(t, 1, f.ec2.LiveAddresses())

	require.NoError(t, f.orch.DeleteServer(ctx, f.account.ID, "eu-west-1", created.ID))
	assert.Equal(t, 1, countOps(f.ec2.Ops(), "TerminateInstances"))
	assert.Equal(t, 0, f.ec2.LiveAddresses())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "ip_allocated", StateIPAllocated.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(9)", State(9).String())
}
