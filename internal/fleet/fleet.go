// Package fleet answers "what is running for this tenant" across regions.
package fleet

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleetbroker/pkg/awsclient"
	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/metrics"
	"fleetbroker/pkg/servers"
)

type CredentialSource interface {
	GetCredentials(ctx context.Context, accountID string) (awsclient.Credentials, error)
}

type Service struct {
	creds          CredentialSource
	ec2            awsclient.EC2Factory
	marker         string
	platformRegion string
	clock          clock.Clock
	metrics        *metrics.Collector
	log            *zap.SugaredLogger
}

func NewService(creds CredentialSource, ec2Factory awsclient.EC2Factory, marker, platformRegion string, m *metrics.Collector, log *zap.SugaredLogger) *Service {
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Service{
		creds:          creds,
		ec2:            ec2Factory,
		marker:         marker,
		platformRegion: platformRegion,
		clock:          clock.WallClock,
		metrics:        m,
		log:            log,
	}
}

// ListFleet queries every region concurrently and returns the running
// servers this deployment created, newest launch first. The first region to
// fail cancels the rest and its error is returned; no partial list is given.
func (s *Service) ListFleet(ctx context.Context, accountID string, regions []string) ([]servers.Server, error) {
	started := s.clock.Now()
	creds, err := s.creds.GetCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		all []servers.Server
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, region := range dedupe(regions) {
		region := region
		g.Go(func() error {
			found, err := s.listRegion(gctx, s.ec2(creds, region), region)
			if err != nil {
				s.log.Warnw("fleet query failed", "account", accountID, "region", region, "err", err)
				return err
			}
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.FleetQueries.WithLabelValues("failed").Observe(s.clock.Now().Sub(started).Seconds())
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].LaunchTime.After(all[j].LaunchTime) })
	s.metrics.FleetQueries.WithLabelValues("ok").Observe(s.clock.Now().Sub(started).Seconds())
	return all, nil
}

func (s *Service) listRegion(ctx context.Context, client awsclient.EC2API, region string) ([]servers.Server, error) {
	var out []servers.Server
	pages := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: servers.MarkerFilters(s.marker),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, faults.Provider(err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				if inst.State == nil || inst.State.Name != types.InstanceStateNameRunning {
					continue
				}
				srv := servers.FromInstance(inst)
				if srv.Region == "" {
					srv.Region = region
				}
				out = append(out, srv)
			}
		}
	}
	return out, nil
}

// ListRegions returns the regions enabled for the tenant's account, sorted by name.
func (s *Service) ListRegions(ctx context.Context, accountID string) ([]string, error) {
	creds, err := s.creds.GetCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out, err := s.ec2(creds, s.platformRegion).DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, faults.Provider(err)
	}
	var regions []string
	for _, r := range out.Regions {
		switch aws.ToString(r.OptInStatus) {
		case "opt-in-not-required", "opted-in":
			regions = append(regions, aws.ToString(r.RegionName))
		}
	}
	sort.Strings(regions)
	return regions, nil
}

func dedupe(regions []string) []string {
	seen := make(map[string]bool, len(regions))
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
