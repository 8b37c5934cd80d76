package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
)

// ContextIdentityKey is the gin context key storing the resolved identity.
const ContextIdentityKey = "requestIdentity"

// Identity resolves who is making the request so canary rules can match on
// user id and group membership. With a JWT secret configured the bearer
// token is authoritative; otherwise the trusted upstream headers are used.
// Resolution never blocks the request: an absent or invalid identity simply
// yields an anonymous one.
func Identity(cfg config.IdentityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := models.Identity{}

		if cfg.JWTSecret != "" {
			identity = identityFromToken(c.GetHeader("Authorization"), cfg.JWTSecret)
		}
		if identity.UserID == "" {
			identity.UserID = strings.TrimSpace(c.GetHeader(cfg.UserIDHeader))
			if raw := c.GetHeader(cfg.GroupsHeader); raw != "" {
				identity.Groups = splitGroups(raw)
			}
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// CurrentIdentity reads the identity stored by the Identity middleware.
func CurrentIdentity(c *gin.Context) models.Identity {
	if v, ok := c.Get(ContextIdentityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Identity{}
}

func identityFromToken(header, secret string) models.Identity {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return models.Identity{}
	}

	claims := &models.IdentityClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return models.Identity{}
	}

	return models.Identity{UserID: claims.Subject, Groups: claims.Groups}
}

func splitGroups(raw string) []string {
	parts := strings.Split(raw, ",")
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			groups = append(groups, trimmed)
		}
	}
	return groups
}
