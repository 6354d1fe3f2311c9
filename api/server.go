package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BrianShiroe/calbi-luka/config"
	"github.com/BrianShiroe/calbi-luka/database"
	"github.com/BrianShiroe/calbi-luka/detect"
	"github.com/BrianShiroe/calbi-luka/monitor"
	"github.com/BrianShiroe/calbi-luka/stream"
)

type Server struct {
	config   *config.Config
	settings *config.SettingsStore
	db       database.Database
	manager  *stream.Manager
	detector *detect.Adapter
	monitor  *monitor.Monitor
}

func NewServer(cfg *config.Config, settings *config.SettingsStore, db database.Database,
	manager *stream.Manager, detector *detect.Adapter, mon *monitor.Monitor) *Server {
	return &Server{
		config:   cfg,
		settings: settings,
		db:       db,
		manager:  manager,
		detector: detector,
		monitor:  mon,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	s.setupCORS(r)
	s.setupRoutes(r)
	return r
}

// Start serves the API until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context) error {
	portAddr := ":" + s.config.ServerPort
	fmt.Printf("Starting API server on %s\n", portAddr)

	srv := &http.Server{Addr: portAddr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %v", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	// Static routes
	r.Static("/records", s.config.RecordsPath)
	r.Static("/playback", s.config.PlaybackPath)

	// Streaming routes
	r.GET("/stream", s.handleStream)
	r.POST("/stop_stream", s.handleStopStream)
	r.GET("/get_settings", s.getSettings)
	r.POST("/update_settings", s.updateSettings)

	// API routes
	api := r.Group("/api")
	{
		api.GET("/alerts", s.listAlerts)
		api.POST("/alerts/:id/resolve", s.resolveAlert)
		api.POST("/alerts/clear", s.clearAlerts)
		api.GET("/alerts/unresolved_count", s.countUnresolvedAlerts)
		api.GET("/snapshots", s.listSnapshots)
		api.GET("/active_streams", s.listActiveStreams)
		api.GET("/system_health", s.getSystemHealth)
	}
}
