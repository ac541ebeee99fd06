package awsfake

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/google/uuid"
)

// STS issues session credentials for any role and counts AssumeRole calls.
type STS struct {
	faults

	mu       sync.Mutex
	Now      func() time.Time
	Lifetime time.Duration
	Account  string
	calls    []string
}

func NewSTS() *STS {
	return &STS{Now: time.Now, Lifetime: time.Hour, Account: "111122223333"}
}

func (s *STS) AssumeRole(ctx context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	s.mu.Lock()
	s.calls = append(s.calls, aws.ToString(in.RoleArn))
	now, life := s.Now(), s.Lifetime
	s.mu.Unlock()
	if err := s.take("AssumeRole"); err != nil {
		return nil, err
	}
	return &sts.AssumeRoleOutput{
		Credentials: &types.Credentials{
			AccessKeyId:     aws.String("ASIA" + uuid.NewString()[:12]),
			SecretAccessKey: aws.String(uuid.NewString()),
			SessionToken:    aws.String(uuid.NewString()),
			Expiration:      aws.Time(now.Add(life)),
		},
	}, nil
}

func (s *STS) GetCallerIdentity(ctx context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if err := s.take("GetCallerIdentity"); err != nil {
		return nil, err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(s.Account),
		Arn:     aws.String("arn:aws:iam::" + s.Account + ":user/platform"),
	}, nil
}

// AssumeRoleCalls returns the role ARNs passed to AssumeRole, in call order.
func (s *STS) AssumeRoleCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
