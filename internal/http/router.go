// Package httpapi wires the HTTP transport (Gin) to the newsletter services,
// middleware and route handlers. It owns middleware ordering and the route
// table; all dependencies are injected through Deps.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/docs"
	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/handlers"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	DB            *gorm.DB
	Newsletters   handlers.NewsletterPublisher
	Subscriptions handlers.SubscriptionManager
}

const readinessTimeout = 2 * time.Second

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: access log with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip, CORS and security headers
//
// The admin group adds operator auth, idempotency key validation and rate
// limiting (in that order, so replays skip the limiter).
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:     []string{"X-API-Key"},
		MaskQueryParams: []string{"subscription_token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps.DB))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Newsletters, deps.Subscriptions, cfg.APIBasePath)
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)

	admin := api.Group("/admin",
		middleware.RequireUser(),
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{
			Required: true,
			Lookup:   savedResponseLookup(deps.DB),
		}),
		limiter.Handler(),
	)
	{
		admin.GET("/newsletters", h.PublishForm)
		admin.POST("/newsletters", h.PublishNewsletter)
	}

	subs := api.Group("/subscriptions", limiter.Handler())
	{
		subs.POST("", h.Subscribe)
		subs.GET("/confirm", h.ConfirmSubscription)
	}
}

// savedResponseLookup reports whether a key already holds a completed
// response. Placeholders of in-flight requests do not count.
func savedResponseLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID string, key domain.IdempotencyKey) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, key.String())
		if repo.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		_, saved := rec.SavedResponse()
		return saved, nil
	}
}

// readiness pings the database.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			_ = c.Error(err)
			handlers.Fail(c, http.StatusServiceUnavailable, "not_ready", "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func corsMiddleware(cfg config.CORSConfig) []gin.HandlerFunc {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
	}
	methods := []string{"GET", "POST", "OPTIONS"}
	expose := []string{"X-Request-ID", "Content-Length", "Location", "Retry-After"}

	if len(cfg.AllowedOrigins) == 0 {
		// ACAO: * even without an Origin header, so plain health checks see it.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    methods,
				AllowHeaders:    allowHeaders,
				ExposeHeaders:   expose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	return []gin.HandlerFunc{cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  methods,
		AllowHeaders:  allowHeaders,
		ExposeHeaders: expose,
		MaxAge:        12 * time.Hour,
	})}
}

// limitBody caps request bodies with http.MaxBytesReader; reads past the
// cap fail, which form binding reports as 400.
func limitBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
