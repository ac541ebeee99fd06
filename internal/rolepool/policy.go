package rolepool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const assumeRoleAction = "sts:AssumeRole"

// StringList is an IAM field that may be a single string or an array.
// A document read with the scalar form writes it back unchanged unless edited.
type StringList struct {
	Values []string
	scalar bool
}

func Scalar(v string) StringList { return StringList{Values: []string{v}, scalar: true} }

func List(vs ...string) StringList { return StringList{Values: vs} }

func (s StringList) IsScalar() bool { return s.scalar && len(s.Values) == 1 }

func (s StringList) Contains(v string) bool {
	for _, have := range s.Values {
		if have == v {
			return true
		}
	}
	return false
}

func (s StringList) MarshalJSON() ([]byte, error) {
	if s.IsScalar() {
		return json.Marshal(s.Values[0])
	}
	if s.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Values)
}

func (s *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scalar(v)
		return nil
	}
	var vs []string
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	*s = List(vs...)
	return nil
}

type Principal struct {
	AWS     *StringList `json:"AWS,omitempty"`
	Service *StringList `json:"Service,omitempty"`
}

type Statement struct {
	Sid       string          `json:"Sid,omitempty"`
	Effect    string          `json:"Effect"`
	Principal Principal       `json:"Principal"`
	Action    StringList      `json:"Action"`
	Condition json.RawMessage `json:"Condition,omitempty"`
}

// TrustPolicy is a role's assume-role policy document.
type TrustPolicy struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// NewTrustPolicy grants AssumeRole to exactly the given principals.
func NewTrustPolicy(principals ...string) TrustPolicy {
	return TrustPolicy{
		Version: "2012-10-17",
		Statement: []Statement{{
			Effect:    "Allow",
			Principal: Principal{AWS: &StringList{Values: principals}},
			Action:    Scalar(assumeRoleAction),
		}},
	}
}

// ParseTrustPolicy accepts the raw JSON or the URL-encoded form IAM returns.
func ParseTrustPolicy(doc string) (TrustPolicy, error) {
	doc = strings.TrimSpace(doc)
	if !strings.HasPrefix(doc, "{") {
		decoded, err := url.QueryUnescape(doc)
		if err != nil {
			return TrustPolicy{}, fmt.Errorf("trust policy: %w", err)
		}
		doc = decoded
	}
	var p TrustPolicy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return TrustPolicy{}, fmt.Errorf("trust policy: %w", err)
	}
	return p, nil
}

func (p TrustPolicy) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// principals returns the AWS principal list of the AssumeRole statement.
func (p *TrustPolicy) principals() (*StringList, error) {
	for i := range p.Statement {
		st := &p.Statement[i]
		if st.Effect == "Allow" && st.Action.Contains(assumeRoleAction) {
			if st.Principal.AWS == nil {
				st.Principal.AWS = &StringList{}
			}
			return st.Principal.AWS, nil
		}
	}
	return nil, fmt.Errorf("trust policy has no %s statement", assumeRoleAction)
}

// Principals lists the trusted AWS principals.
func (p TrustPolicy) Principals() []string {
	l, err := p.principals()
	if err != nil {
		return nil
	}
	return append([]string(nil), l.Values...)
}

// AddPrincipal trusts principal. The fallback placeholder is dropped once a
// real tenant is present. It reports false when principal was already trusted.
func (p *TrustPolicy) AddPrincipal(principal, fallback string) (bool, error) {
	l, err := p.principals()
	if err != nil {
		return false, err
	}
	if l.Contains(principal) {
		return false, nil
	}
	next := make([]string, 0, len(l.Values)+1)
	for _, v := range l.Values {
		if v != fallback {
			next = append(next, v)
		}
	}
	*l = List(append(next, principal)...)
	return true, nil
}

// RemovePrincipal stops trusting principal. IAM rejects an empty principal
// list, so a role left with none trusts fallback instead. It reports false
// when principal was not trusted.
func (p *TrustPolicy) RemovePrincipal(principal, fallback string) (bool, error) {
	l, err := p.principals()
	if err != nil {
		return false, err
	}
	if !l.Contains(principal) {
		return false, nil
	}
	if l.IsScalar() {
		*l = Scalar(fallback)
		return true, nil
	}
	next := make([]string, 0, len(l.Values))
	for _, v := range l.Values {
		if v != principal {
			next = append(next, v)
		}
	}
	if len(next) == 0 {
		*l = Scalar(fallback)
		return true, nil
	}
	*l = List(next...)
	return true, nil
}
