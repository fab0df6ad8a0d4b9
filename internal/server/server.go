// Package server exposes the orchestrator (C9) as an HTTP surface,
// following the teacher gateway's gin + sirupsen/logrus + Prometheus
// conventions (internal/router, internal/middleware, internal/handlers).
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"go-aigateway/internal/config"
	"go-aigateway/internal/handlers"
	"go-aigateway/internal/middleware"
	"go-aigateway/internal/orchestrator"
	"go-aigateway/internal/security"
	"go-aigateway/pkg/searchtypes"
)

// searchRequest is the wire shape of a POST /search body.
type searchRequest struct {
	Query            string   `json:"query" binding:"required"`
	Backends         []string `json:"backends,omitempty"`
	Language         string   `json:"language,omitempty"`
	TimeRange        string   `json:"time_range,omitempty"`
	Method           string   `json:"method,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	SafesearchStrict bool     `json:"safesearch_strict,omitempty"`
}

// clickRequest is the wire shape of a POST /feedback/click body.
type clickRequest struct {
	Query    string `json:"query" binding:"required"`
	Category string `json:"category" binding:"required"`
	Backend  string `json:"backend" binding:"required"`
	URL      string `json:"url" binding:"required"`
	Position int    `json:"position"`
}

// New builds the gin engine wiring the orchestrator behind the same
// CORS/security-header/request-size middleware the teacher's
// internal/router.SetupRoutes applies, plus the search-gateway's own
// /search, /feedback/click, /healthz, and /metrics endpoints. No
// request-rate limiter is installed; only POST /auth/login carries the
// brute-force ban.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, localAuth *security.LocalAuthenticator) *gin.Engine {
	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg))
	r.Use(security.SecurityHeaders(&security.Config{HSTSMaxAge: 31536000}))

	improvements := security.NewSecurityImprovements(cfg.Security.LoginBanWindow)
	r.Use(improvements.RequestSizeLimit(map[string]int64{
		"/search":         cfg.Security.MaxRequestSize,
		"/feedback/click": cfg.Security.MaxRequestSize,
	}, cfg.Security.MaxRequestSize))

	r.GET("/healthz", healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/login", improvements.BruteForceProtection(), handlers.Login(localAuth))
	r.POST("/auth/refresh", handlers.RefreshToken(localAuth))

	apiKeys := r.Group("/auth/apikeys")
	apiKeys.Use(middleware.LocalAuth(localAuth, "search:admin"))
	apiKeys.POST("", handlers.CreateAPIKey(localAuth))
	apiKeys.GET("", handlers.ListAPIKeys(localAuth))
	apiKeys.PUT("/:id", handlers.UpdateAPIKey(localAuth))
	apiKeys.DELETE("/:id", handlers.DeleteAPIKey(localAuth))

	search := r.Group("/")
	if cfg.Server.AuthEnabled {
		search.Use(middleware.LocalAuth(localAuth, "search:query"))
	}
	search.POST("/search", searchHandler(orch))

	feedback := r.Group("/")
	if cfg.Server.AuthEnabled {
		feedback.Use(middleware.LocalAuth(localAuth, "search:feedback"))
	}
	feedback.POST("/feedback/click", clickHandler(orch))

	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "search-gateway",
		"timestamp": time.Now().Unix(),
	})
}

// searchHandler adapts an HTTP request into an orchestrator.Search call
// and renders the structured response in the teacher's StandardResponse
// envelope (handlers.SuccessResponse/ErrorResponse).
func searchHandler(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	sanitizer := security.NewInputSanitizer()
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			handlers.ValidationErrorResponse(c, "invalid search request", err.Error())
			return
		}
		if err := sanitizer.ValidateJSONStructure(req.Query); err != nil {
			handlers.ValidationErrorResponse(c, "rejected search request", err.Error())
			return
		}
		req.Query = sanitizer.SanitizeString(req.Query)

		q := searchtypes.Query{
			Text:      req.Query,
			Language:  req.Language,
			TimeRange: searchtypes.TimeWindow(req.TimeRange),
			Method:    searchtypes.FusionMethod(req.Method),
			TopK:      req.TopK,
		}
		if req.SafesearchStrict {
			q.Safety = searchtypes.SafetyStrict
		}
		for _, b := range req.Backends {
			q.BackendOverrides = append(q.BackendOverrides, searchtypes.BackendID(b))
		}

		resp, err := orch.Search(c.Request.Context(), q)
		if err != nil {
			logrus.WithError(err).Warn("search pipeline returned a fatal error")
			handlers.ErrorResponse(c, http.StatusBadGateway, "ORCHESTRATOR_FATAL", err.Error(), resp)
			return
		}

		handlers.SuccessResponse(c, resp)
	}
}

// clickHandler forwards a displayed result's click to C8 via the
// orchestrator's RecordClick entry point.
func clickHandler(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	sanitizer := security.NewInputSanitizer()
	return func(c *gin.Context) {
		var req clickRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			handlers.ValidationErrorResponse(c, "invalid click request", err.Error())
			return
		}
		req.Query = sanitizer.SanitizeString(req.Query)

		orch.RecordClick(req.Query, searchtypes.Category(req.Category), searchtypes.BackendID(req.Backend), req.URL, req.Position)
		handlers.SuccessResponse(c, gin.H{"recorded": true})
	}
}
