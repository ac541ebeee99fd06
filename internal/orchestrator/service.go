// Package orchestrator provisions servers in a tenant's account as a saga:
// allocate an address, launch, wait for running, associate. Any failure
// rolls back what was acquired.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"fleetbroker/pkg/awsclient"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/metrics"
	"fleetbroker/pkg/servers"
)

// CredentialSource resolves an account to usable delegated credentials.
type CredentialSource interface {
	GetCredentials(ctx context.Context, accountID string) (awsclient.Credentials, error)
}

// RegionRecorder records that an account has servers in a region.
type RegionRecorder interface {
	AddActiveRegion(ctx context.Context, accountID, region string) error
}

type Config struct {
	PollInterval      time.Duration
	PollMaxWait       time.Duration // 0 waits until the caller gives up
	Marker            string
	SecurityGroupName string
	Images            ImageResolver
}

type CreateRequest struct {
	AccountID    string                `json:"-"`
	Name         string                `json:"name"`
	Region       string                `json:"region"`
	InstanceType string                `json:"type"`
	Option       servers.PricingOption `json:"option"`
}

func (r CreateRequest) validate() error {
	switch {
	case r.AccountID == "":
		return faults.New(faults.ErrInvalidRequest, "account is required", nil)
	case strings.TrimSpace(r.Name) == "":
		return faults.New(faults.ErrInvalidRequest, "name is required", nil)
	case r.Region == "":
		return faults.New(faults.ErrInvalidRequest, "region is required", nil)
	case r.InstanceType == "":
		return faults.New(faults.ErrInvalidRequest, "type is required", nil)
	case !r.Option.Valid():
		return faults.New(faults.ErrInvalidRequest, "option must be OnDemand or Spot", nil)
	}
	return nil
}

type Orchestrator struct {
	creds    CredentialSource
	regions  RegionRecorder
	ec2      awsclient.EC2Factory
	cfg      Config
	clock    clock.Clock
	notifier Notifier
	metrics  *metrics.Collector
	tracer   trace.Tracer
	log      *zap.SugaredLogger
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

func WithMetrics(m *metrics.Collector) Option { return func(o *Orchestrator) { o.metrics = m } }

func New(creds CredentialSource, regions RegionRecorder, ec2Factory awsclient.EC2Factory, cfg Config, log *zap.SugaredLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		creds:    creds,
		regions:  regions,
		ec2:      ec2Factory,
		cfg:      cfg,
		clock:    clock.WallClock,
		notifier: LogNotifier{Log: log},
		metrics:  metrics.NewCollector(),
		tracer:   otel.Tracer("fleetbroker/orchestrator"),
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateServer runs the provisioning saga and returns the descriptor read back
// from the instance's tags. On failure every acquired resource is released and
// the triggering fault is returned inside a *faults.SagaError.
//
// Once the launch has been issued the provider calls no longer follow ctx:
// a caller that goes away gets the server torn down and ctx.Err() back.
func (o *Orchestrator) CreateServer(ctx context.Context, req CreateRequest) (servers.Server, error) {
	if err := req.validate(); err != nil {
		return servers.Server{}, err
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateServer", trace.WithAttributes(
		attribute.String("region", req.Region),
		attribute.String("instance.type", req.InstanceType),
		attribute.String("option", string(req.Option)),
	))
	defer span.End()
	started := o.clock.Now()

	creds, err := o.creds.GetCredentials(ctx, req.AccountID)
	if err != nil {
		o.metrics.Provisions.WithLabelValues("failed").Inc()
		return servers.Server{}, err
	}
	client := o.ec2(creds, req.Region)
	a := &attempt{o: o, accountID: req.AccountID, region: req.Region, span: span}

	alloc, err := client.AllocateAddress(ctx, &ec2.AllocateAddressInput{Domain: types.DomainTypeVpc})
	if err != nil {
		return servers.Server{}, a.abort(ctx, "allocate", faults.Provider(err))
	}
	allocID, publicIP := aws.ToString(alloc.AllocationId), aws.ToString(alloc.PublicIp)
	a.advance(StateIPAllocated, "address "+allocID, func(ctx context.Context) error {
		return o.releaseAddress(ctx, client, allocID)
	})

	work := context.WithoutCancel(ctx)

	imageID, groupID, err := o.prepareLaunch(ctx, client)
	if err != nil {
		return servers.Server{}, a.abort(work, "launch", err)
	}
	tags := servers.Tags{
		Marker:       o.cfg.Marker,
		Name:         req.Name,
		PublicIP:     publicIP,
		Region:       req.Region,
		AllocationID: allocID,
		Spot:         req.Option == servers.Spot,
	}
	launched, err := client.RunInstances(work, runInput(req, imageID, groupID, tags))
	if err != nil {
		return servers.Server{}, a.abort(work, "launch", translateLaunch(err, req))
	}
	if len(launched.Instances) == 0 {
		return servers.Server{}, a.abort(work, "launch", faults.Provider(errors.New("launch returned no instance")))
	}
	inst := launched.Instances[0]
	instanceID := aws.ToString(inst.InstanceId)
	a.advance(StateInstanceLaunched, "instance "+instanceID, func(ctx context.Context) error {
		_, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{instanceID}})
		return err
	})

	if err := o.waitRunning(ctx, work, client, instanceID); err != nil {
		return servers.Server{}, a.abort(work, "wait", err)
	}
	if err := ctx.Err(); err != nil {
		return servers.Server{}, a.abort(work, "wait", err)
	}

	assoc, err := client.AssociateAddress(work, &ec2.AssociateAddressInput{
		AllocationId: aws.String(allocID),
		InstanceId:   aws.String(instanceID),
	})
	if err != nil {
		return servers.Server{}, a.abort(work, "associate", faults.Provider(err))
	}
	assocID := aws.ToString(assoc.AssociationId)
	a.advance(StateIPAssociated, "association "+assocID, func(ctx context.Context) error {
		_, err := client.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{AssociationId: aws.String(assocID)})
		return err
	})
	if err := o.regions.AddActiveRegion(work, req.AccountID, req.Region); err != nil {
		return servers.Server{}, a.abort(work, "associate", err)
	}

	server := o.describe(work, client, inst)
	if err := ctx.Err(); err != nil {
		return servers.Server{}, a.abort(work, "done", err)
	}
	a.advance(StateDone, "", nil)
	o.metrics.Provisions.WithLabelValues("succeeded").Inc()
	o.metrics.ProvisionDuration.Observe(o.clock.Now().Sub(started).Seconds())
	o.log.Infow("server provisioned", "account", req.AccountID, "region", req.Region, "instance", instanceID, "option", req.Option)
	return server, nil
}

func (o *Orchestrator) prepareLaunch(ctx context.Context, client awsclient.EC2API) (string, string, error) {
	imageID, err := o.cfg.Images.Resolve(ctx, client)
	if err != nil {
		return "", "", err
	}
	groupID, err := ensureSecurityGroup(ctx, client, o.cfg.SecurityGroupName)
	if err != nil {
		return "", "", err
	}
	return imageID, groupID, ctx.Err()
}

func runInput(req CreateRequest, imageID, groupID string, tags servers.Tags) *ec2.RunInstancesInput {
	in := &ec2.RunInstancesInput{
		ImageId:          aws.String(imageID),
		InstanceType:     types.InstanceType(req.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		SecurityGroupIds: []string{groupID},
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         tags.Encode(),
		}},
	}
	if req.Option == servers.Spot {
		in.InstanceMarketOptions = &types.InstanceMarketOptionsRequest{
			MarketType: types.MarketTypeSpot,
			SpotOptions: &types.SpotMarketOptions{
				SpotInstanceType:             types.SpotInstanceTypeOneTime,
				InstanceInterruptionBehavior: types.InstanceInterruptionBehaviorTerminate,
			},
		}
	}
	return in
}

var capacityCodes = map[string]bool{
	"InsufficientInstanceCapacity":         true,
	"InsufficientHostCapacity":             true,
	"InsufficientReservedInstanceCapacity": true,
	"InsufficientCapacity":                 true,
}

func translateLaunch(err error, req CreateRequest) error {
	if capacityCodes[faults.APICode(err)] {
		return faults.New(faults.ErrCapacityExhausted,
			"There is no "+req.InstanceType+" capacity available in "+req.Region+" right now. Try another type or region",
			err)
	}
	return faults.Provider(err)
}

var errNotReady = errors.New("instance not running yet")

// waitRunning polls until the instance reports running. Polls use the
// detached context; ctx only decides when to stop waiting.
func (o *Orchestrator) waitRunning(ctx, work context.Context, client awsclient.EC2API, instanceID string) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			out, err := client.DescribeInstanceStatus(work, &ec2.DescribeInstanceStatusInput{InstanceIds: []string{instanceID}})
			if err != nil {
				// a fresh instance id can lag behind the launch call
				if faults.APICode(err) == "InvalidInstanceID.NotFound" {
					return errNotReady
				}
				return faults.Provider(err)
			}
			if len(out.InstanceStatuses) == 0 {
				return errNotReady
			}
			return nil
		},
		IsFatalError: func(err error) bool { return !errors.Is(err, errNotReady) },
		Attempts:     retry.UnlimitedAttempts,
		Delay:        o.cfg.PollInterval,
		MaxDuration:  o.cfg.PollMaxWait,
		Clock:        o.clock,
		Stop:         ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsRetryStopped(err):
		return ctx.Err()
	case retry.IsDurationExceeded(err), retry.IsAttemptsExceeded(err):
		return faults.New(faults.ErrPollTimeout, "The server did not start in time", err)
	}
	return err
}

// describe reads the server back from the provider, falling back to the
// launch response when the read fails.
func (o *Orchestrator) describe(ctx context.Context, client awsclient.EC2API, launched types.Instance) servers.Server {
	out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{aws.ToString(launched.InstanceId)}})
	if err == nil && len(out.Reservations) > 0 && len(out.Reservations[0].Instances) > 0 {
		return servers.FromInstance(out.Reservations[0].Instances[0])
	}
	o.log.Warnw("describe after provisioning failed, using launch response", "instance", aws.ToString(launched.InstanceId), "err", err)
	return servers.FromInstance(launched)
}

// releaseAddress retries while the address is still bound to a terminating
// instance. An address that no longer exists counts as released.
func (o *Orchestrator) releaseAddress(ctx context.Context, client awsclient.EC2API, allocID string) error {
	return retry.Call(retry.CallArgs{
		Func: func() error {
			_, err := client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(allocID)})
			if faults.APICode(err) == "InvalidAllocationID.NotFound" {
				return nil
			}
			return err
		},
		IsFatalError: func(err error) bool { return faults.APICode(err) != "InvalidIPAddress.InUse" },
		Attempts:     12,
		Delay:        o.cfg.PollInterval,
		Clock:        o.clock,
		Stop:         ctx.Done(),
	})
}
