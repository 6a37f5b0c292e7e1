package route

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fonsecaaso/linkpulse/go-server/internal/handler"
	"github.com/fonsecaaso/linkpulse/go-server/internal/middleware"
	"github.com/fonsecaaso/linkpulse/go-server/internal/token"
)

type Dependencies struct {
	Links      *handler.LinkHandler
	Auth       *handler.AuthHandler
	Health     *handler.HealthHandler
	Tokens     *token.Manager
	APILimiter middleware.Limiter
	// RedirectLimiter guards GET /:code against code enumeration. APILimiter
	// is used under its own scope when nil.
	RedirectLimiter middleware.Limiter
	AllowOrigins    []string
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog(),
		middleware.MetricsMiddleware(),
	)

	origins := deps.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Location", middleware.RequestIDHeader},
		AllowCredentials: len(origins) != 1 || origins[0] != "*",
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", deps.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if deps.APILimiter != nil {
		api.Use(middleware.RateLimit(deps.APILimiter, "api"))
	}

	auth := api.Group("/auth")
	auth.POST("/register", deps.Auth.Register)
	auth.POST("/login", deps.Auth.Login)

	api.POST("/short-urls", middleware.OptionalAuth(deps.Tokens), deps.Links.Create)

	links := api.Group("/short-urls", middleware.RequireAuth(deps.Tokens))
	links.GET("", deps.Links.List)
	links.GET("/:code", deps.Links.Get)
	links.PATCH("/:code", deps.Links.Update)
	links.DELETE("/:code", deps.Links.Delete)
	links.POST("/:code/disable", deps.Links.Disable)
	links.POST("/:code/enable", deps.Links.Enable)

	redirectLimiter := deps.RedirectLimiter
	if redirectLimiter == nil {
		redirectLimiter = deps.APILimiter
	}
	if redirectLimiter != nil {
		r.GET("/:code", middleware.RateLimit(redirectLimiter, "redirect"), deps.Links.Redirect)
	} else {
		r.GET("/:code", deps.Links.Redirect)
	}

	return r
}
