package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/peergrid/confab/internal/adapters/signal"
	"github.com/peergrid/confab/internal/app"
	"github.com/peergrid/confab/internal/auth"
	"github.com/peergrid/confab/internal/config"
	"github.com/peergrid/confab/internal/directory"
)

const ctxClaims = "claims"

// Deps bundles everything the router wires together.
type Deps struct {
	Cfg      *config.Config
	Gateway  *app.Gateway
	Tokens   *auth.Service
	Meetings *directory.Store
	Signal   *signal.Controller
}

// AuthRequired extracts and verifies a bearer token, storing its claims in
// the request context.
func AuthRequired(tokens *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) auth.Claims {
	return c.MustGet(ctxClaims).(auth.Claims)
}

func SetupRouter(deps Deps) *gin.Engine {
	if deps.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{deps: deps}

	api := r.Group("/api")
	api.POST("/meetings", h.createMeeting)

	api.GET("/ws/signal", func(c *gin.Context) {
		deps.Signal.HandleSignal(c)
	})

	mod := api.Group("/meetings/:id", AuthRequired(deps.Tokens))
	mod.POST("/tokens", h.issueToken)
	mod.GET("/room", h.roomSnapshot)
	mod.POST("/lock", h.lock)
	mod.POST("/admit", h.admit)
	mod.POST("/deny", h.deny)
	mod.POST("/kick", h.kick)
	mod.POST("/mute", h.mute)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
