package rolepool

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallback = "arn:aws:iam::111122223333:root"

func TestParseKeepsScalarPrincipal(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":"arn:aws:iam::444455556666:role/a"},"Action":"sts:AssumeRole"}]}`

	p, err := ParseTrustPolicy(url.QueryEscape(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:aws:iam::444455556666:role/a"}, p.Principals())
	assert.JSONEq(t, raw, p.String())
}

func TestAddPrincipalReplacesFallback(t *testing.T) {
	p := TrustPolicy{Version: "2012-10-17", Statement: []Statement{{
		Effect:    "Allow",
		Principal: Principal{AWS: ptr(Scalar(fallback))},
		Action:    Scalar(assumeRoleAction),
	}}}

	added, err := p.AddPrincipal("arn:aws:iam::1:role/t1", fallback)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"arn:aws:iam::1:role/t1"}, p.Principals())

	added, err = p.AddPrincipal("arn:aws:iam::1:role/t1", fallback)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestRemovePrincipal(t *testing.T) {
	tests := []struct {
		name    string
		start   StringList
		remove  string
		removed bool
		want    []string
		scalar  bool
	}{
		{"scalar becomes fallback", Scalar("a"), "a", true, []string{fallback}, true},
		{"last array entry becomes fallback", List("a"), "a", true, []string{fallback}, true},
		{"filters array", List("a", "b", "c"), "b", true, []string{"a", "c"}, false},
		{"absent principal", List("a", "b"), "z", false, []string{"a", "b"}, false},
		{"absent scalar", Scalar("a"), "z", false, []string{"a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := tt.start
			p := NewTrustPolicy()
			p.Statement[0].Principal.AWS = &start

			removed, err := p.RemovePrincipal(tt.remove, fallback)
			require.NoError(t, err)
			assert.Equal(t, tt.removed, removed)
			assert.Equal(t, tt.want, p.Principals())
			assert.Equal(t, tt.scalar, p.Statement[0].Principal.AWS.IsScalar())
		})
	}
}

func TestPolicyWithoutAssumeRoleStatement(t *testing.T) {
	p := TrustPolicy{Version: "2012-10-17", Statement: []Statement{{Effect: "Deny", Action: Scalar(assumeRoleAction)}}}
	_, err := p.AddPrincipal("a", fallback)
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
