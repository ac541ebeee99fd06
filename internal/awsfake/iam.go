package awsfake

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// IAM keeps roles and their trust documents. Documents are returned URL-encoded
// like the real service does. Principals listed in InvalidPrincipals make
// CreateRole and UpdateAssumeRolePolicy fail with MalformedPolicyDocument.
type IAM struct {
	faults

	mu                sync.Mutex
	roles             map[string]*types.Role
	InvalidPrincipals map[string]bool
	updates           int
}

func NewIAM() *IAM {
	return &IAM{roles: map[string]*types.Role{}, InvalidPrincipals: map[string]bool{}}
}

func (i *IAM) CreateRole(ctx context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if err := i.take("CreateRole"); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := i.roles[name]; ok {
		return nil, APIError("EntityAlreadyExists", "Role with name "+name+" already exists.")
	}
	doc := aws.ToString(in.AssumeRolePolicyDocument)
	if err := i.checkPrincipals(doc); err != nil {
		return nil, err
	}
	role := &types.Role{
		RoleName:                 aws.String(name),
		RoleId:                   aws.String("AROA" + strings.ToUpper(name)),
		Arn:                      aws.String("arn:aws:iam::111122223333:role/" + name),
		Path:                     aws.String("/"),
		CreateDate:               aws.Time(time.Now()),
		AssumeRolePolicyDocument: aws.String(doc),
		Description:              in.Description,
		Tags:                     in.Tags,
	}
	i.roles[name] = role
	return &iam.CreateRoleOutput{Role: copyRole(role)}, nil
}

func (i *IAM) GetRole(ctx context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if err := i.take("GetRole"); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	role, ok := i.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "The role with name "+aws.ToString(in.RoleName)+" cannot be found.")
	}
	out := copyRole(role)
	out.AssumeRolePolicyDocument = aws.String(url.QueryEscape(aws.ToString(role.AssumeRolePolicyDocument)))
	return &iam.GetRoleOutput{Role: out}, nil
}

func (i *IAM) UpdateAssumeRolePolicy(ctx context.Context, in *iam.UpdateAssumeRolePolicyInput, _ ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error) {
	if err := i.take("UpdateAssumeRolePolicy"); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	role, ok := i.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "The role with name "+aws.ToString(in.RoleName)+" cannot be found.")
	}
	doc := aws.ToString(in.PolicyDocument)
	if err := i.checkPrincipals(doc); err != nil {
		return nil, err
	}
	role.AssumeRolePolicyDocument = aws.String(doc)
	i.updates++
	return &iam.UpdateAssumeRolePolicyOutput{}, nil
}

// Document returns the raw trust document stored for role name.
func (i *IAM) Document(name string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if role, ok := i.roles[name]; ok {
		return aws.ToString(role.AssumeRolePolicyDocument)
	}
	return ""
}

// SetDocument overwrites a role's trust document, bypassing validation.
func (i *IAM) SetDocument(name, doc string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if role, ok := i.roles[name]; ok {
		role.AssumeRolePolicyDocument = aws.String(doc)
	}
}

func (i *IAM) RoleCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.roles)
}

func (i *IAM) Updates() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.updates
}

func (i *IAM) checkPrincipals(doc string) error {
	var parsed struct {
		Statement []struct {
			Principal struct {
				AWS json.RawMessage `json:"AWS"`
			} `json:"Principal"`
		} `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return APIError("MalformedPolicyDocument", "Syntax errors in policy.")
	}
	for _, st := range parsed.Statement {
		var list []string
		var one string
		if json.Unmarshal(st.Principal.AWS, &one) == nil {
			list = []string{one}
		} else {
			_ = json.Unmarshal(st.Principal.AWS, &list)
		}
		for _, p := range list {
			if i.InvalidPrincipals[p] {
				return APIError("MalformedPolicyDocument", "Invalid principal in policy: \"AWS\":\""+p+"\"")
			}
		}
	}
	return nil
}

func copyRole(r *types.Role) *types.Role {
	c := *r
	return &c
}
