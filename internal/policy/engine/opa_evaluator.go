package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

const loginQuery = "data.ylstack.login"

// Default Rego policy: admit every verified login and keep the configured session lifetime.
const defaultRegoPolicy = `package ylstack.login

default allow := true
default session_ttl_seconds := 0
default reason := ""
`

// OPAEvaluator evaluates the login policy with OPA Rego. Policies must declare
// package ylstack.login and may define allow, session_ttl_seconds and reason.
type OPAEvaluator struct {
	prepared rego.PreparedEvalQuery
	log      logging.Logger
}

// NewOPAEvaluator compiles policy (the default policy when empty).
func NewOPAEvaluator(ctx context.Context, policy string, log logging.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	if log == nil {
		log = logging.Nop()
	}
	compiler, err := ast.CompileModules(map[string]string{"login.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	prepared, err := rego.New(
		rego.Query(loginQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare login policy: %w", err)
	}
	return &OPAEvaluator{prepared: prepared, log: log.With("component", "policy")}, nil
}

// LoadOPAEvaluator reads the policy from path. An empty path uses the default policy.
func LoadOPAEvaluator(ctx context.Context, path string, log logging.Logger) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", log)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(raw), log)
}

// HealthCheck verifies that the compiled policy evaluates against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.prepared.Eval(ctx, rego.EvalInput(buildInput(LoginInput{Now: time.Unix(0, 0).UTC()})))
	if err != nil {
		return fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateLogin evaluates the login policy. Evaluation failures are logged and the login
// falls back to the default decision.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error) {
	rs, err := e.prepared.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		e.log.Warn(ctx, "login policy evaluation failed, using defaults", "account_id", in.AccountID, "error", err)
		return defaultDecision(), nil
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return defaultDecision(), nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		e.log.Warn(ctx, "login policy returned a non-object document, using defaults")
		return defaultDecision(), nil
	}
	out := defaultDecision()
	if v, ok := doc["allow"].(bool); ok {
		out.Allow = v
	}
	if v, ok := doc["reason"].(string); ok {
		out.Reason = v
	}
	if secs := toInt64(doc["session_ttl_seconds"]); secs > 0 {
		out.SessionTTL = time.Duration(secs) * time.Second
	}
	return out, nil
}

func buildInput(in LoginInput) map[string]interface{} {
	roles := make([]interface{}, len(in.Roles))
	for i, r := range in.Roles {
		roles[i] = r
	}
	account := map[string]interface{}{
		"id":            in.AccountID,
		"email":         in.Email,
		"roles":         roles,
		"mfa_enabled":   in.MFAEnabled,
		"last_login_at": nil,
	}
	if in.LastLoginAt != nil {
		account["last_login_at"] = in.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return map[string]interface{}{
		"account": account,
		"request": map[string]interface{}{
			"ip":   in.IP,
			"time": in.Now.UTC().Format(time.RFC3339),
			"hour": in.Now.UTC().Hour(),
		},
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func defaultDecision() LoginDecision {
	return LoginDecision{Allow: true}
}
