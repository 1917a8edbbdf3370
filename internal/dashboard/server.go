// Package dashboard is the small operator API: runtime status and a
// manual rescan trigger.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plexmount/plexmount/internal/status"
)

// Server serves the operator dashboard API.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	status     *status.Status
	trigger    func()
	log        *slog.Logger
}

// NewServer creates a dashboard server. trigger requests a rescan and
// must never block.
func NewServer(port int, st *status.Status, trigger func()) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		status:  st,
		trigger: trigger,
		log:     slog.With("component", "dashboard"),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(func(c *gin.Context) {
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	})

	s.router.GET("/status", s.getStatus)
	s.router.POST("/rescan", s.postRescan)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

// StatusResponse is the JSON shape of GET /status.
type StatusResponse struct {
	Instance      string `json:"instance"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Items         int    `json:"items"`
	LastScan      string `json:"last_scan,omitempty"`
	FilesOpened   int64  `json:"files_opened"`
	BytesStreamed int64  `json:"bytes_streamed"`
}

func (s *Server) getStatus(c *gin.Context) {
	rep := s.status.Report()
	resp := StatusResponse{
		Instance:      rep.Instance,
		State:         string(rep.State),
		UptimeSeconds: int64(rep.Uptime.Seconds()),
		Items:         rep.Items,
		FilesOpened:   rep.FilesOpened,
		BytesStreamed: rep.BytesStreamed,
	}
	if !rep.LastScan.IsZero() {
		resp.LastScan = rep.LastScan.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postRescan(c *gin.Context) {
	s.trigger()
	s.log.Info("manual rescan requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "rescan queued"})
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("starting dashboard server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("dashboard server error", "error", err)
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
