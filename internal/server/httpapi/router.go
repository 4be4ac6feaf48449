// Package httpapi exposes the credential service over HTTP using gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/logging"
	"github.com/dmitrijs2005/trackauth/internal/server/auth"
	"github.com/dmitrijs2005/trackauth/internal/server/keys"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/dmitrijs2005/trackauth/internal/server/services"
	"github.com/gin-gonic/gin"
)

// Credentials is the subset of services.CredentialService used here.
type Credentials interface {
	Login(ctx context.Context, username, password string, meta models.ClientMeta) (*services.TokenPair, error)
	Refresh(ctx context.Context, raw string, meta models.ClientMeta) (*services.TokenPair, error)
	Logout(ctx context.Context, raw string) error
	VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// KeyStatus reports key health and the public key set.
type KeyStatus interface {
	Healthy() bool
	JWKS() keys.JWKS
}

type Options struct {
	// ExposeJWKS publishes /.well-known/jwks.json. Off in production.
	ExposeJWKS bool
	// TrustedProxies are allowed to set X-Forwarded-For. Nil trusts none.
	TrustedProxies []string
	Logger         logging.Logger
}

type handler struct {
	svc    Credentials
	keys   KeyStatus
	logger logging.Logger
}

func NewRouter(svc Credentials, ks KeyStatus, opts Options) (*gin.Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	h := &handler{svc: svc, keys: ks, logger: opts.Logger}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.health)
	if opts.ExposeJWKS {
		r.GET("/.well-known/jwks.json", h.jwks)
	}

	g := r.Group("/auth", noStore())
	g.POST("/login", h.login)
	g.POST("/refresh", h.refresh)
	g.POST("/logout", h.logout)
	g.GET("/me", h.requireBearer(), h.me)

	return r, nil
}

func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}

func (h *handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func (h *handler) health(c *gin.Context) {
	if !h.keys.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "keys_loaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "keys_loaded": true})
}

func (h *handler) jwks(c *gin.Context) {
	c.JSON(http.StatusOK, h.keys.JWKS())
}
