package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

var errorDescriptions = map[string]string{
	common.CodeInvalidCredentials: "invalid username or password",
	common.CodeInvalidToken:       "the token is invalid",
	common.CodeTokenExpired:       "the token has expired",
	common.CodeTokenRevoked:       "the token has been revoked",
	common.CodeRateLimited:        "too many attempts, try again later",
	common.CodeInternal:           "internal server error",
}

// fail writes the response for a service error. Internal details never
// reach the body.
func (h *handler) fail(c *gin.Context, err error) {
	code := common.Code(err)
	desc := errorDescriptions[code]

	switch code {
	case common.CodeRateLimited:
		var ra *common.RetryAfterError
		if errors.As(err, &ra) {
			c.Header("Retry-After", strconv.Itoa(ra.Seconds))
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: code, ErrorDescription: desc})
	case common.CodeInternal:
		h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: code, ErrorDescription: desc})
	default:
		unauthorized(c, code, desc)
	}
}

func unauthorized(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", common.BearerScheme)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: code, ErrorDescription: desc})
}

func badRequest(c *gin.Context, desc string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: common.CodeInvalidRequest, ErrorDescription: desc})
}
