package orchestrator

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/servers"
)

// Status is the provider's view of a server's health.
type Status struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

func serverNotFound(id string, cause error) error {
	return faults.New(faults.ErrNotFound, "Server "+id+" not found", cause)
}

// lookup returns id's instance if it exists in region and carries this deployment's marker.
func (o *Orchestrator) lookup(ctx context.Context, accountID, region, id string) (types.Instance, error) {
	creds, err := o.creds.GetCredentials(ctx, accountID)
	if err != nil {
		return types.Instance{}, err
	}
	out, err := o.ec2(creds, region).DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		if faults.APICode(err) == "InvalidInstanceID.NotFound" || faults.APICode(err) == "InvalidInstanceID.Malformed" {
			return types.Instance{}, serverNotFound(id, err)
		}
		return types.Instance{}, faults.Provider(err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if aws.ToString(inst.InstanceId) == id && servers.DecodeTags(inst.Tags).Marker == o.cfg.Marker {
				return inst, nil
			}
		}
	}
	return types.Instance{}, serverNotFound(id, nil)
}

// GetServer returns one server. Terminated servers are reported as not found.
func (o *Orchestrator) GetServer(ctx context.Context, accountID, region, id string) (servers.Server, error) {
	inst, err := o.lookup(ctx, accountID, region, id)
	if err != nil {
		return servers.Server{}, err
	}
	if inst.State != nil && inst.State.Name == types.InstanceStateNameTerminated {
		return servers.Server{}, faults.New(faults.ErrNotFound, "This server has been deleted", nil)
	}
	return servers.FromInstance(inst), nil
}

func (o *Orchestrator) GetServerStatus(ctx context.Context, accountID, region, id string) (Status, error) {
	creds, err := o.creds.GetCredentials(ctx, accountID)
	if err != nil {
		return Status{}, err
	}
	out, err := o.ec2(creds, region).DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{id},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		if faults.APICode(err) == "InvalidInstanceID.NotFound" || faults.APICode(err) == "InvalidInstanceID.Malformed" {
			return Status{}, serverNotFound(id, err)
		}
		return Status{}, faults.Provider(err)
	}
	if len(out.InstanceStatuses) == 0 {
		return Status{}, serverNotFound(id, nil)
	}
	st := out.InstanceStatuses[0]
	var s Status
	if st.InstanceStatus != nil {
		s.Status = string(st.InstanceStatus.Status)
	}
	if st.InstanceState != nil {
		s.State = string(st.InstanceState.Name)
	}
	return s, nil
}

// DeleteServer terminates the instance, then releases its address. A failed
// release is reported but the termination stands. Deleting an already
// terminated server only retries the release, so repeated calls succeed.
func (o *Orchestrator) DeleteServer(ctx context.Context, accountID, region, id string) error {
	inst, err := o.lookup(ctx, accountID, region, id)
	if err != nil {
		return err
	}
	creds, err := o.creds.GetCredentials(ctx, accountID)
	if err != nil {
		return err
	}
	client := o.ec2(creds, region)
	if !gone(inst) {
		if _, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
			return faults.Provider(err)
		}
	}
	allocID := servers.DecodeTags(inst.Tags).AllocationID
	if allocID != "" {
		if err := o.releaseAddress(ctx, client, allocID); err != nil {
			o.log.Errorw("server terminated but address not released", "account", accountID, "region", region, "instance", id, "allocation", allocID, "err", err)
			o.notifier.CompensationFailed(ctx, accountID, region, "address "+allocID, err)
			return faults.Provider(fmt.Errorf("instance %s terminated; releasing address %s: %w", id, allocID, err))
		}
	}
	o.log.Infow("server deleted", "account", accountID, "region", region, "instance", id)
	return nil
}

func gone(inst types.Instance) bool {
	if inst.State == nil {
		return false
	}
	switch inst.State.Name {
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return true
	}
	return false
}
