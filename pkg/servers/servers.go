// Package servers defines the tag contract written on every provisioned instance
// and the descriptor read back from it.
package servers

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	TagController   = "controller"
	TagDriver       = "driver"
	TagNode         = "node"
	TagName         = "name"
	TagPublicIP     = "publicIp"
	TagRegion       = "region"
	TagAllocationID = "ipAllocationId"
	TagSpot         = "isSpot"
)

type PricingOption string

const (
	OnDemand PricingOption = "OnDemand"
	Spot     PricingOption = "Spot"
)

func (p PricingOption) Valid() bool { return p == OnDemand || p == Spot }

// Tags is the typed form of the tag set. Marker is written to the controller,
// driver and node keys; fleet queries filter on it.
type Tags struct {
	Marker       string
	Name         string
	PublicIP     string
	Region       string
	AllocationID string
	Spot         bool
}

func (t Tags) Encode() []types.Tag {
	return []types.Tag{
		{Key: aws.String(TagController), Value: aws.String(t.Marker)},
		{Key: aws.String(TagDriver), Value: aws.String(t.Marker)},
		{Key: aws.String(TagNode), Value: aws.String(t.Marker)},
		{Key: aws.String(TagName), Value: aws.String(t.Name)},
		{Key: aws.String(TagPublicIP), Value: aws.String(t.PublicIP)},
		{Key: aws.String(TagRegion), Value: aws.String(t.Region)},
		{Key: aws.String(TagAllocationID), Value: aws.String(t.AllocationID)},
		{Key: aws.String(TagSpot), Value: aws.String(strconv.FormatBool(t.Spot))},
	}
}

func DecodeTags(tags []types.Tag) Tags {
	var t Tags
	for _, tag := range tags {
		v := aws.ToString(tag.Value)
		switch aws.ToString(tag.Key) {
		case TagController:
			t.Marker = v
		case TagName:
			t.Name = v
		case TagPublicIP:
			t.PublicIP = v
		case TagRegion:
			t.Region = v
		case TagAllocationID:
			t.AllocationID = v
		case TagSpot:
			t.Spot, _ = strconv.ParseBool(v)
		}
	}
	return t
}

// MarkerFilters selects instances created by this deployment.
func MarkerFilters(marker string) []types.Filter {
	return []types.Filter{
		{Name: aws.String("tag:" + TagController), Values: []string{marker}},
		{Name: aws.String("tag:" + TagDriver), Values: []string{marker}},
	}
}

// Server is the descriptor returned to tenants.
type Server struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Region       string        `json:"region"`
	Name         string        `json:"name"`
	PublicIP     string        `json:"publicIp"`
	AllocationID string        `json:"ipAllocationId,omitempty"`
	LaunchTime   time.Time     `json:"launchTime"`
	Option       PricingOption `json:"option"`
	State        string        `json:"state,omitempty"`
}

// FromInstance builds a descriptor from provider-side state. Name, region and
// address come from the tags, not from the original request.
func FromInstance(inst types.Instance) Server {
	t := DecodeTags(inst.Tags)
	s := Server{
		ID:           aws.ToString(inst.InstanceId),
		Type:         string(inst.InstanceType),
		Region:       t.Region,
		Name:         t.Name,
		PublicIP:     t.PublicIP,
		AllocationID: t.AllocationID,
		LaunchTime:   aws.ToTime(inst.LaunchTime),
		Option:       OnDemand,
	}
	if t.Spot {
		s.Option = Spot
	}
	if inst.State != nil {
		s.State = string(inst.State.Name)
	}
	return s
}
