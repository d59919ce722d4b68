package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/clipforge/clipforge-backend/internal/middleware"
)

// RouterConfig mirrors the teacher's server.RouterConfig: one field per
// handler/middleware collaborator, wired together by internal/app.
type RouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	VideosHandler  *VideosHandler
	StreamHandler  *StreamHandler
	CORSOrigins    []string
	ServiceName    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "clipforge-backend"
	}
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.AttachTraceContext())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	videos := router.Group("/videos")
	videos.Use(cfg.AuthMiddleware.RequireAuth())
	{
		videos.POST("/generate", cfg.VideosHandler.Generate)
		videos.GET("/jobs/:job_id/status", cfg.VideosHandler.Status)
		videos.GET("/jobs/:job_id/video-url", cfg.VideosHandler.VideoURL)
		videos.POST("/jobs/:job_id/cancel", cfg.VideosHandler.Cancel)
		if cfg.StreamHandler != nil {
			videos.GET("/jobs/:job_id/stream", cfg.StreamHandler.Stream)
		}
	}

	return router
}

func healthCheck(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"status": "ok"})
}
