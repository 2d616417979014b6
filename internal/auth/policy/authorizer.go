// Package policy decides whether an identity may perform a session action.
// Rules live in Rego and are evaluated in-process with OPA; deployments can
// swap in a custom module without touching Go code.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/auth"
	"twentymin-coach/backend/internal/session/domain"
)

// Session lifecycle actions checked against the policy.
const (
	ActionCreate = "session:create"
	ActionAccept = "session:accept"
	ActionReject = "session:reject"
	ActionStart  = "session:start"
	ActionEnd    = "session:end"
	ActionCancel = "session:cancel"
	ActionRate   = "session:rate"
	ActionView   = "session:view"
	ActionList   = "session:list"
)

const policyQuery = "data.coach.session_access.allow"

// Default Rego policy: admins may do anything, users act on their own
// sessions, coaches act on sessions assigned to them, and an explicit
// permission claim grants its action outright.
const defaultRegoPolicy = `package coach.session_access

default allow = false

allow if {
	input.identity.role == "admin"
}

allow if {
	input.identity.permissions[_] == input.action
}

allow if {
	input.action == "session:create"
	input.identity.role == "user"
	input.identity.user_id == input.subject_id
}

allow if {
	input.action == "session:accept"
	input.identity.role == "coach"
	input.identity.user_id == input.session.coach_id
}

allow if {
	input.action == "session:reject"
	input.identity.role == "coach"
	input.identity.user_id == input.session.coach_id
}

allow if {
	input.action == "session:start"
	input.identity.role == "coach"
	input.identity.user_id == input.session.coach_id
}

allow if {
	input.action == "session:end"
	input.identity.role == "coach"
	input.identity.user_id == input.session.coach_id
}

allow if {
	input.action == "session:cancel"
	input.identity.role == "user"
	input.identity.user_id == input.session.user_id
}

allow if {
	input.action == "session:cancel"
	input.identity.role == "coach"
	input.identity.user_id == input.session.coach_id
}

allow if {
	input.action == "session:rate"
	input.identity.role == "user"
	input.identity.user_id == input.session.user_id
}

allow if {
	input.action == "session:view"
	input.identity.user_id == input.session.user_id
}

allow if {
	input.action == "session:view"
	input.identity.user_id == input.session.coach_id
}

allow if {
	input.action == "session:list"
	input.identity.user_id == input.subject_id
}
`

// Request is one authorization question: may Identity perform Action?
// Session is nil for create and list; SubjectID names whose resource the
// action targets when there is no session yet.
type Request struct {
	Identity  *auth.Identity
	Action    string
	Session   *domain.Session
	SubjectID string
}

// Authorizer answers authorization questions for session actions.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) error
}

// OPAAuthorizer evaluates session access rules with the in-process OPA engine.
type OPAAuthorizer struct {
	compiler *ast.Compiler
}

// NewOPAAuthorizer compiles the default policy module.
func NewOPAAuthorizer() (*OPAAuthorizer, error) {
	return NewOPAAuthorizerWithPolicy(defaultRegoPolicy)
}

// NewOPAAuthorizerWithPolicy compiles a custom policy module. The module must
// define data.coach.session_access.allow.
func NewOPAAuthorizerWithPolicy(module string) (*OPAAuthorizer, error) {
	compiler, err := ast.CompileModules(map[string]string{"session_access.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile session access policy: %w", err)
	}
	return &OPAAuthorizer{compiler: compiler}, nil
}

// HealthCheck verifies the compiled policy evaluates. Returns nil on success.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	err := a.Authorize(ctx, Request{
		Identity:  &auth.Identity{UserID: "healthcheck", Role: auth.RoleAdmin},
		Action:    ActionView,
		SubjectID: "healthcheck",
	})
	if err != nil {
		return fmt.Errorf("session access policy: %w", err)
	}
	return nil
}

// Authorize evaluates the policy for req. A denied or unanswerable query
// surfaces as PERMISSION_DENIED; a missing identity as AUTH_REQUIRED.
func (a *OPAAuthorizer) Authorize(ctx context.Context, req Request) error {
	if req.Identity == nil || req.Identity.UserID == "" {
		return apperrors.AuthRequired("")
	}
	input := a.buildInput(req)
	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(a.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return apperrors.PermissionDenied("policy evaluation failed", map[string]any{
			"action": req.Action, "user_id": req.Identity.UserID,
		})
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return apperrors.PermissionDenied("policy returned no result", map[string]any{
			"action": req.Action, "user_id": req.Identity.UserID,
		})
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok || !allowed {
		return apperrors.PermissionDenied(
			fmt.Sprintf("identity may not perform %s", req.Action),
			map[string]any{"action": req.Action, "user_id": req.Identity.UserID, "role": string(req.Identity.Role)},
		)
	}
	return nil
}

func (a *OPAAuthorizer) buildInput(req Request) map[string]interface{} {
	identity := map[string]interface{}{
		"user_id":     req.Identity.UserID,
		"role":        string(req.Identity.Role),
		"permissions": req.Identity.Permissions,
	}
	session := map[string]interface{}{
		"id":       "",
		"user_id":  "",
		"coach_id": "",
		"status":   "",
	}
	if req.Session != nil {
		session["id"] = req.Session.ID
		session["user_id"] = req.Session.UserID
		session["coach_id"] = req.Session.CoachID
		session["status"] = string(req.Session.Status)
	}
	return map[string]interface{}{
		"action":     req.Action,
		"identity":   identity,
		"session":    session,
		"subject_id": req.SubjectID,
	}
}
