package orchestrator

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"fleetbroker/pkg/awsclient"
	"fleetbroker/pkg/faults"
)

// ImageResolver picks the machine image for a launch in the client's region.
type ImageResolver interface {
	Resolve(ctx context.Context, client awsclient.EC2API) (string, error)
}

// LatestImage selects the newest available image matching owner, name and architecture.
type LatestImage struct {
	Owner        string
	NamePattern  string
	Architecture string
}

func (l LatestImage) Resolve(ctx context.Context, client awsclient.EC2API) (string, error) {
	out, err := client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{l.Owner},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{l.NamePattern}},
			{Name: aws.String("architecture"), Values: []string{l.Architecture}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", faults.Provider(err)
	}
	var best *types.Image
	for i := range out.Images {
		img := &out.Images[i]
		// CreationDate is ISO 8601, so lexical order is chronological
		if best == nil || aws.ToString(img.CreationDate) > aws.ToString(best.CreationDate) {
			best = img
		}
	}
	if best == nil {
		return "", faults.Provider(fmt.Errorf("no %s image matching %q from owner %s", l.Architecture, l.NamePattern, l.Owner))
	}
	return aws.ToString(best.ImageId), nil
}

var ingressPorts = []int32{80, 443, 22}

// ensureSecurityGroup returns the id of the named group, creating it open on
// the web and ssh ports when missing.
func ensureSecurityGroup(ctx context.Context, client awsclient.EC2API, name string) (string, error) {
	if id, err := findSecurityGroup(ctx, client, name); err != nil || id != "" {
		return id, err
	}
	created, err := client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("fleetbroker managed servers"),
	})
	if err != nil {
		if faults.APICode(err) == "InvalidGroup.Duplicate" {
			return findSecurityGroup(ctx, client, name)
		}
		return "", faults.Provider(err)
	}
	id := aws.ToString(created.GroupId)
	perms := make([]types.IpPermission, 0, len(ingressPorts))
	for _, port := range ingressPorts {
		perms = append(perms, types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(port),
			ToPort:     aws.Int32(port),
			IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		})
	}
	if _, err := client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(id),
		IpPermissions: perms,
	}); err != nil {
		return "", faults.Provider(err)
	}
	return id, nil
}

func findSecurityGroup(ctx context.Context, client awsclient.EC2API, name string) (string, error) {
	out, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{{Name: aws.String("group-name"), Values: []string{name}}},
	})
	if err != nil {
		return "", faults.Provider(err)
	}
	if len(out.SecurityGroups) == 0 {
		return "", nil
	}
	return aws.ToString(out.SecurityGroups[0].GroupId), nil
}
