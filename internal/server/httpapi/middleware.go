package httpapi

import (
	"strings"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// requireBearer verifies the Authorization bearer token and stores the
// claims on both the gin and request contexts.
func (h *handler) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, common.CodeInvalidToken, errorDescriptions[common.CodeInvalidToken])
			return
		}

		claims, err := h.svc.VerifyAccessToken(c.Request.Context(), token)
		if err != nil {
			h.fail(c, err)
			return
		}

		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
