// Package authz provides the authorization store the virtual identity store
// hands to user and group handles. Decisions are evaluated in-process with
// OPA Rego; the identity core itself never checks permissions.
package authz

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/kasunbg/carbon-identity-mgt/internal/store"
)

var _ store.AuthorizationStore = (*Store)(nil)

const policyQuery = "data.identitymgt.authz.allow"

// defaultRegoPolicy permits reads for everyone and writes for nobody. Deployments
// override it with their own policy file.
const defaultRegoPolicy = `package identitymgt.authz

default allow = false

allow if {
	input.action == "read"
}
`

// Store evaluates authorization queries against a compiled Rego policy. Safe
// for concurrent use; the compiler is immutable after construction.
type Store struct {
	compiler *ast.Compiler
}

// New compiles the given Rego policy source. An empty source uses the
// built-in default policy.
func New(policySource string) (*Store, error) {
	if policySource == "" {
		policySource = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": policySource})
	if err != nil {
		return nil, fmt.Errorf("authz: compile policy: %w", err)
	}
	return &Store{compiler: compiler}, nil
}

// NewFromFile compiles the policy at path, or the default policy when path
// is empty.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New("")
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authz: read policy file %s: %w", path, err)
	}
	return New(string(source))
}

// IsUserAuthorized evaluates the policy for the given subject, action, and
// resource. A missing or non-boolean result denies.
func (s *Store) IsUserAuthorized(ctx context.Context, uniqueUserID, domainName, action, resource string) (bool, error) {
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"id":     uniqueUserID,
			"domain": domainName,
		},
		"action":   action,
		"resource": resource,
	}
	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(s.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("authz: eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil
	}
	return allowed, nil
}
