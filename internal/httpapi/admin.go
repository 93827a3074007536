package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	adminKeyHeader  = "X-Admin-Key"
	adminContextKey = "admin"
)

// AdminLookup resolves an admin API key to the admin's name.
type AdminLookup interface {
	Lookup(key string) (string, bool)
}

// RequireAdmin rejects callers that do not present a configured admin key, either in
// X-Admin-Key or as a bearer token. The admin name is stored under "admin".
func RequireAdmin(admins AdminLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(adminKeyHeader)
		if key == "" {
			key = bearerToken(c.GetHeader("Authorization"))
		}
		var name string
		ok := false
		if admins != nil {
			name, ok = admins.Lookup(key)
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin privileges required"})
			return
		}
		c.Set(adminContextKey, name)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
