package awsfake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"fleetbroker/pkg/awsclient"
)

type address struct {
	region        string
	publicIP      string
	instanceID    string
	associationID string
}

type instance struct {
	region    string
	inst      types.Instance
	pollsLeft int
}

// EC2 simulates compute across regions. A launched instance stays pending for
// PendingPolls DescribeInstanceStatus calls; a negative value keeps it pending forever.
type EC2 struct {
	faults

	mu           sync.Mutex
	Now          func() time.Time
	PendingPolls int
	Regions      []types.Region
	Images       []types.Image

	seq       int
	addresses map[string]*address
	instances map[string]*instance
	groups    map[string]string // region/name -> id
	ingress   map[string][]types.IpPermission
	ops       []string
	runInputs []*ec2.RunInstancesInput
	lastRun   string
	creds     map[string]awsclient.Credentials
}

func NewEC2() *EC2 {
	return &EC2{
		Now:       time.Now,
		addresses: map[string]*address{},
		instances: map[string]*instance{},
		groups:    map[string]string{},
		ingress:   map[string][]types.IpPermission{},
		creds:     map[string]awsclient.Credentials{},
		Regions: []types.Region{
			{RegionName: aws.String("us-east-1"), OptInStatus: aws.String("opt-in-not-required")},
			{RegionName: aws.String("eu-west-1"), OptInStatus: aws.String("opt-in-not-required")},
			{RegionName: aws.String("ap-south-2"), OptInStatus: aws.String("not-opted-in")},
		},
		Images: []types.Image{
			{ImageId: aws.String("ami-old"), CreationDate: aws.String("2024-01-10T00:00:00.000Z")},
			{ImageId: aws.String("ami-new"), CreationDate: aws.String("2025-06-01T00:00:00.000Z")},
		},
	}
}

// Client satisfies awsclient.EC2Factory.
func (e *EC2) Client(creds awsclient.Credentials, region string) awsclient.EC2API {
	e.mu.Lock()
	e.creds[region] = creds
	e.mu.Unlock()
	return &regional{EC2: e, region: region}
}

// Ops lists mutating calls in the order they happened, e.g. "ReleaseAddress eipalloc-1".
func (e *EC2) Ops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ops...)
}

func (e *EC2) LastRunInput() *ec2.RunInstancesInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.runInputs) == 0 {
		return nil
	}
	return e.runInputs[len(e.runInputs)-1]
}

// LastRunInstanceID returns the id of the most recently launched instance.
func (e *EC2) LastRunInstanceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// CredsFor returns the credentials the last client for region was built with.
func (e *EC2) CredsFor(region string) awsclient.Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds[region]
}

// LiveAddresses counts allocations not yet released.
func (e *EC2) LiveAddresses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.addresses)
}

// InstanceState reports the state of id, "" when unknown.
func (e *EC2) InstanceState(id string) types.InstanceStateName {
	e.mu.Lock()
	defer e.mu.Unlock()
	if in, ok := e.instances[id]; ok {
		return in.inst.State.Name
	}
	return ""
}

func (e *EC2) Ingress(region, groupID string) []types.IpPermission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingress[region+"/"+groupID]
}

// AddInstance seeds an instance directly into region.
func (e *EC2) AddInstance(region string, inst types.Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inst.State == nil {
		inst.State = &types.InstanceState{Name: types.InstanceStateNameRunning}
	}
	e.instances[aws.ToString(inst.InstanceId)] = &instance{region: region, inst: inst}
}

func (e *EC2) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *EC2) record(op string) {
	e.ops = append(e.ops, op)
}

type regional struct {
	*EC2
	region string
}

func (r *regional) AllocateAddress(ctx context.Context, in *ec2.AllocateAddressInput, _ ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error) {
	if err := r.take("AllocateAddress"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID("eipalloc")
	ip := fmt.Sprintf("203.0.113.%d", r.seq)
	r.addresses[id] = &address{region: r.region, publicIP: ip}
	r.record("AllocateAddress " + id)
	return &ec2.AllocateAddressOutput{AllocationId: aws.String(id), PublicIp: aws.String(ip), Domain: types.DomainTypeVpc}, nil
}

func (r *regional) ReleaseAddress(ctx context.Context, in *ec2.ReleaseAddressInput, _ ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	id := aws.ToString(in.AllocationId)
	r.mu.Lock()
	r.record("ReleaseAddress " + id)
	r.mu.Unlock()
	if err := r.take("ReleaseAddress"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.addresses[id]
	if !ok || addr.region != r.region {
		return nil, APIError("InvalidAllocationID.NotFound", "The allocation ID '"+id+"' does not exist")
	}
	delete(r.addresses, id)
	return &ec2.ReleaseAddressOutput{}, nil
}

func (r *regional) AssociateAddress(ctx context.Context, in *ec2.AssociateAddressInput, _ ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error) {
	if err := r.take("AssociateAddress"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.addresses[aws.ToString(in.AllocationId)]
	if !ok {
		return nil, APIError("InvalidAllocationID.NotFound", "The allocation ID does not exist")
	}
	addr.instanceID = aws.ToString(in.InstanceId)
	addr.associationID = r.nextID("eipassoc")
	r.record("AssociateAddress " + aws.ToString(in.AllocationId))
	return &ec2.AssociateAddressOutput{AssociationId: aws.String(addr.associationID)}, nil
}

func (r *regional) DisassociateAddress(ctx context.Context, in *ec2.DisassociateAddressInput, _ ...func(*ec2.Options)) (*ec2.DisassociateAddressOutput, error) {
	id := aws.ToString(in.AssociationId)
	r.mu.Lock()
	r.record("DisassociateAddress " + id)
	r.mu.Unlock()
	if err := r.take("DisassociateAddress"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range r.addresses {
		if addr.associationID == id {
			addr.associationID, addr.instanceID = "", ""
			return &ec2.DisassociateAddressOutput{}, nil
		}
	}
	return nil, APIError("InvalidAssociationID.NotFound", "The association ID '"+id+"' does not exist")
}

func (r *regional) RunInstances(ctx context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	r.mu.Lock()
	r.runInputs = append(r.runInputs, in)
	r.mu.Unlock()
	if err := r.take("RunInstances"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID("i")
	var tags []types.Tag
	for _, spec := range in.TagSpecifications {
		if spec.ResourceType == types.ResourceTypeInstance {
			tags = append(tags, spec.Tags...)
		}
	}
	inst := types.Instance{
		InstanceId:   aws.String(id),
		InstanceType: in.InstanceType,
		ImageId:      in.ImageId,
		LaunchTime:   aws.Time(r.Now()),
		State:        &types.InstanceState{Name: types.InstanceStateNamePending},
		Placement:    &types.Placement{AvailabilityZone: aws.String(r.region + "a")},
		Tags:         tags,
	}
	r.instances[id] = &instance{region: r.region, inst: inst, pollsLeft: r.PendingPolls}
	r.lastRun = id
	r.record("RunInstances " + id)
	return &ec2.RunInstancesOutput{Instances: []types.Instance{inst}}, nil
}

func (r *regional) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	r.mu.Lock()
	for _, id := range in.InstanceIds {
		r.record("TerminateInstances " + id)
	}
	r.mu.Unlock()
	if err := r.take("TerminateInstances"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &ec2.TerminateInstancesOutput{}
	for _, id := range in.InstanceIds {
		inst, ok := r.instances[id]
		if !ok || inst.region != r.region {
			return nil, APIError("InvalidInstanceID.NotFound", "The instance ID '"+id+"' does not exist")
		}
		prev := inst.inst.State.Name
		inst.inst.State = &types.InstanceState{Name: types.InstanceStateNameTerminated}
		for _, addr := range r.addresses {
			if addr.instanceID == id {
				addr.instanceID, addr.associationID = "", ""
			}
		}
		out.TerminatingInstances = append(out.TerminatingInstances, types.InstanceStateChange{
			InstanceId:    aws.String(id),
			PreviousState: &types.InstanceState{Name: prev},
			CurrentState:  &types.InstanceState{Name: types.InstanceStateNameShuttingDown},
		})
	}
	return out, nil
}

func (r *regional) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if err := r.take("DescribeInstances"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []types.Instance
	if len(in.InstanceIds) > 0 {
		for _, id := range in.InstanceIds {
			inst, ok := r.instances[id]
			if !ok || inst.region != r.region {
				return nil, APIError("InvalidInstanceID.NotFound", "The instance ID '"+id+"' does not exist")
			}
			if matchFilters(inst.inst, in.Filters) {
				matched = append(matched, inst.inst)
			}
		}
	} else {
		for _, inst := range r.instances {
			if inst.region == r.region && matchFilters(inst.inst, in.Filters) {
				matched = append(matched, inst.inst)
			}
		}
	}
	out := &ec2.DescribeInstancesOutput{}
	for _, inst := range matched {
		out.Reservations = append(out.Reservations, types.Reservation{Instances: []types.Instance{inst}})
	}
	return out, nil
}

func (r *regional) DescribeInstanceStatus(ctx context.Context, in *ec2.DescribeInstanceStatusInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	if err := r.take("DescribeInstanceStatus"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &ec2.DescribeInstanceStatusOutput{}
	for _, id := range in.InstanceIds {
		inst, ok := r.instances[id]
		if !ok || inst.region != r.region {
			return nil, APIError("InvalidInstanceID.NotFound", "The instance ID '"+id+"' does not exist")
		}
		if inst.inst.State.Name == types.InstanceStateNamePending {
			if inst.pollsLeft != 0 {
				if inst.pollsLeft > 0 {
					inst.pollsLeft--
				}
				if !aws.ToBool(in.IncludeAllInstances) {
					continue
				}
			} else {
				inst.inst.State = &types.InstanceState{Name: types.InstanceStateNameRunning}
			}
		}
		if inst.inst.State.Name != types.InstanceStateNameRunning && !aws.ToBool(in.IncludeAllInstances) {
			continue
		}
		out.InstanceStatuses = append(out.InstanceStatuses, types.InstanceStatus{
			InstanceId:     aws.String(id),
			InstanceState:  inst.inst.State,
			InstanceStatus: &types.InstanceStatusSummary{Status: types.SummaryStatusOk},
		})
	}
	return out, nil
}

func (r *regional) DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if err := r.take("DescribeImages"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ec2.DescribeImagesOutput{Images: append([]types.Image(nil), r.Images...)}, nil
}

func (r *regional) DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if err := r.take("DescribeSecurityGroups"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &ec2.DescribeSecurityGroupsOutput{}
	for _, f := range in.Filters {
		if aws.ToString(f.Name) != "group-name" {
			continue
		}
		for _, name := range f.Values {
			if id, ok := r.groups[r.region+"/"+name]; ok {
				out.SecurityGroups = append(out.SecurityGroups, types.SecurityGroup{GroupId: aws.String(id), GroupName: aws.String(name)})
			}
		}
	}
	return out, nil
}

func (r *regional) CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	if err := r.take("CreateSecurityGroup"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.region + "/" + aws.ToString(in.GroupName)
	if _, ok := r.groups[key]; ok {
		return nil, APIError("InvalidGroup.Duplicate", "The security group '"+aws.ToString(in.GroupName)+"' already exists")
	}
	id := r.nextID("sg")
	r.groups[key] = id
	r.record("CreateSecurityGroup " + id)
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (r *regional) AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	if err := r.take("AuthorizeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.region + "/" + aws.ToString(in.GroupId)
	r.ingress[key] = append(r.ingress[key], in.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupIngressOutput{Return: aws.Bool(true)}, nil
}

func (r *regional) DescribeRegions(ctx context.Context, in *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	if err := r.take("DescribeRegions"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ec2.DescribeRegionsOutput{Regions: append([]types.Region(nil), r.Regions...)}, nil
}

func matchFilters(inst types.Instance, filters []types.Filter) bool {
	for _, f := range filters {
		name := aws.ToString(f.Name)
		var have string
		switch {
		case name == "instance-state-name":
			have = string(inst.State.Name)
		case strings.HasPrefix(name, "tag:"):
			key := strings.TrimPrefix(name, "tag:")
			for _, t := range inst.Tags {
				if aws.ToString(t.Key) == key {
					have = aws.ToString(t.Value)
				}
			}
		default:
			continue
		}
		ok := false
		for _, v := range f.Values {
			if v == have {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
