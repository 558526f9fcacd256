package shared

import (
	"context"
	"fmt"
	"strconv"
)

// Role is the approval authority of an actor.
type Role string

const (
	RoleStaff      Role = "staff"
	RoleApprover   Role = "approver"
	RoleSuperadmin Role = "superadmin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStaff, RoleApprover, RoleSuperadmin:
		return r, nil
	case "":
		return RoleStaff, nil
	}
	return "", Invalid("role", fmt.Sprintf("unknown role %q", s))
}

// Actor identifies who performs an operation.
type Actor struct {
	ID   int64
	Role Role
}

// CanApprove reports whether the actor may approve normal-tier items.
func (a Actor) CanApprove() bool {
	return a.Role == RoleApprover || a.Role == RoleSuperadmin
}

// IsSuperadmin reports whether the actor holds the highest approval tier.
func (a Actor) IsSuperadmin() bool {
	return a.Role == RoleSuperadmin
}

func (a Actor) String() string {
	return strconv.FormatInt(a.ID, 10) + "/" + string(a.Role)
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != 0
}

// RequireActor returns the context actor or a validation error naming it.
func RequireActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, Invalid("actor", "is required")
	}
	return actor, nil
}
