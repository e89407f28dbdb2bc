package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/models"
)

var (
	ErrUnauthenticated = apierror.New(apierror.Unauthorized, "USER_NOT_AUTHENTICATED", "auth: caller identity missing")
	ErrForbidden       = apierror.New(apierror.Forbidden, "INSUFFICIENT_PERMISSIONS", "auth: insufficient permissions")
)

// Actor is the verified caller of a service operation
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// HasRole reports whether the actor holds one of roles. ADMIN holds every role.
func (a Actor) HasRole(roles ...string) bool {
	if a.Role == models.RoleAdmin {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// IsManager reports whether the actor may perform manager operations
func (a Actor) IsManager() bool {
	return a.HasRole(models.RoleManager)
}

// Require returns an error unless the actor is identified and holds one of roles
func (a Actor) Require(roles ...string) error {
	if a.ID == "" {
		return ErrUnauthenticated
	}
	if !a.HasRole(roles...) {
		return ErrForbidden
	}
	return nil
}

// ActorFrom returns the actor set by RequireAuth
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(ContextKeyActor)
	if !ok {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}
