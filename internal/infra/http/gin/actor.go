package ginserver

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	domainbooking "kiraya/internal/domain/booking"
)

// Actor identity arrives on trusted headers set by the edge proxy; real
// authentication lives in a separate collaborator.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

func actorFrom(c *gin.Context) (domainbooking.Actor, bool) {
	id := strings.TrimSpace(c.GetHeader(headerUserID))
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "missing user identity", Code: "unauthenticated"})
		return domainbooking.Actor{}, false
	}
	role := domainbooking.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(headerUserRole))))
	switch role {
	case domainbooking.RoleTenant, domainbooking.RoleOwner, domainbooking.RoleAdmin:
	case "":
		role = domainbooking.RoleTenant
	default:
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unknown role", Code: "unauthenticated"})
		return domainbooking.Actor{}, false
	}
	return domainbooking.Actor{UserID: id, Role: role}, true
}
