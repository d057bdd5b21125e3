package access

import (
	"context"
	"errors"

	"comms-service/internal/apperr"
	"comms-service/internal/models"
)

// Operation names what the actor is trying to do in a channel.
type Operation string

const (
	OpRead          Operation = "read"
	OpPost          Operation = "post"
	OpEditOwn       Operation = "edit-own"
	OpModerate      Operation = "moderate"
	OpManageMembers Operation = "manage-members"
)

// Decision is the result of an authorization check. Role is only
// meaningful when Allowed is true.
type Decision struct {
	Allowed bool
	Role    models.Role
}

// MembershipReader is the slice of the channel repository the gate needs.
type MembershipReader interface {
	GetMembership(ctx context.Context, channelID, userID int) (models.Membership, error)
}

// Gate is the single authorization chokepoint. Every mutating operation on
// a channel or its messages must pass through Authorize before touching
// the store.
type Gate struct {
	members MembershipReader
}

// NewGate constructs a Gate.
func NewGate(members MembershipReader) *Gate {
	return &Gate{members: members}
}

// Authorize resolves the actor's membership and checks the operation
// against the role hierarchy. Absence of a membership row always denies,
// regardless of operation. The error return is reserved for store
// failures; denial is not an error.
func (g *Gate) Authorize(ctx context.Context, actorID, channelID int, op Operation) (Decision, error) {
	membership, err := g.members.GetMembership(ctx, channelID, actorID)
	if errors.Is(err, apperr.ErrNotAMember) {
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: roleAllows(membership.Role, op), Role: membership.Role}, nil
}

// Require is Authorize collapsed to the error taxonomy: denial surfaces
// as ErrForbidden so a caller cannot tell a missing channel from one it
// has no access to.
func (g *Gate) Require(ctx context.Context, actorID, channelID int, op Operation) (models.Role, error) {
	decision, err := g.Authorize(ctx, actorID, channelID, op)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		return "", apperr.ErrForbidden
	}
	return decision.Role, nil
}

func roleAllows(role models.Role, op Operation) bool {
	switch op {
	case OpRead, OpPost, OpEditOwn:
		return role.Valid()
	case OpModerate, OpManageMembers:
		return role.CanModerate()
	}
	return false
}
