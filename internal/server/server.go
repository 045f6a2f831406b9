package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/driver"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/provider"
	"github.com/mediagraph/mediagraph/internal/store"
	"github.com/mediagraph/mediagraph/internal/workflow"
)

// Server wires the HTTP surface: generation proxying, content-addressed
// uploads, static video serving, and the optional workflow archive.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *provider.Registry
	cache    *store.DigestCache
	codec    *workflow.Codec
	archive  *driver.Archive

	// download fetches finished videos from the vendor CDN.
	download *http.Client
	now      func() time.Time
}

func NewServer(cfg *config.Config, registry *provider.Registry, cache *store.DigestCache, archive *driver.Archive, log *logger.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		cache:    cache,
		codec:    workflow.NewCodec(cfg.Server.PublicBaseURL),
		archive:  archive,
		download: &http.Client{Timeout: 60 * time.Second},
		now:      time.Now,
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.Server.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST"},
		AllowHeaders:    []string{"Content-Type", "Accept"},
	}))

	r.POST("/api/ti2v/submit", s.SubmitTask)
	r.POST("/api/ti2v/query", s.QueryTask)
	r.GET("/api/ti2v/download", s.DownloadVideo)
	r.POST("/api/ti2v/check-exist", s.CheckExist)
	r.POST("/api/ti2v/upload", s.Upload)
	r.Static("/ti2v_videos", s.cfg.Server.DownloadDir)

	r.GET("/api/cache/stats", s.CacheStats)
	r.POST("/api/cache/clear", s.CacheClear)
	r.GET("/api/health", s.Health)

	r.POST("/api/workflow/save", s.SaveWorkflow)
	r.GET("/api/workflow/:id", s.LoadWorkflow)

	return r
}

// Run serves on the configured port.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.log.Info("server listening", "addr", addr, "download_dir", s.cfg.Server.DownloadDir)
	return s.SetupRouter().Run(addr)
}
