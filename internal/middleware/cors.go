package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS returns a Gin middleware that sets cross-origin headers for the REST
// surface alongside the WebSocket upgrade route. allowedOrigins is "*" or a
// comma-separated allowlist (e.g. "http://localhost:3000,http://localhost:3001").
func CORS(allowedOrigins string) gin.HandlerFunc {
	allowed := parseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		requestOrigin := c.GetHeader("Origin")

		var echoOrigin string
		switch {
		case len(allowed) == 0, allowed["*"]:
			echoOrigin = "*"
		case requestOrigin != "" && allowed[requestOrigin]:
			echoOrigin = requestOrigin
		}

		if echoOrigin != "" {
			c.Header("Access-Control-Allow-Origin", echoOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// parseOrigins splits a comma-separated origin list into a lookup set,
// trimming whitespace around each entry and dropping empties.
func parseOrigins(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, origin := range strings.Split(strings.TrimSpace(raw), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			set[origin] = true
		}
	}
	return set
}
