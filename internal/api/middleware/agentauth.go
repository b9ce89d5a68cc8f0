package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// agentTokenKey is the context key the agent token is stored under.
const agentTokenKey = "agent_token"

// AgentToken extracts the bearer token from the Authorization header and
// stores it in the request context. Resolution against the registry happens
// in the handlers; here only presence is enforced.
func AgentToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing agent token"})
			return
		}
		c.Set(agentTokenKey, token)
		c.Next()
	}
}

// GetAgentToken returns the bearer token stored by AgentToken.
func GetAgentToken(c *gin.Context) string {
	return c.GetString(agentTokenKey)
}
