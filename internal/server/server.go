// Package server exposes the live scope over HTTP: JSON snapshots, a
// websocket frame stream, runtime settings, CSV export and Prometheus
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"miniscope/internal/engine"
	"miniscope/internal/export"
	"miniscope/internal/logging"
	"miniscope/internal/measure"
	"miniscope/internal/version"
)

// Backend is the scope state the server reads and mutates.
type Backend interface {
	Latest() *engine.Frame
	Settings() engine.Settings
	ApplyPatch(engine.Patch) (engine.Settings, error)
}

// Server serves one Backend.
type Server struct {
	backend  Backend
	listen   string
	interval time.Duration
	router   *gin.Engine
	logger   zerolog.Logger
}

// New builds the router. interval is how often websocket clients are
// checked for a new frame, normally the display tick.
func New(backend Backend, listen string, interval time.Duration, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		backend:  backend,
		listen:   listen,
		interval: interval,
		router:   gin.New(),
		logger:   logging.Component(logger, "server"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())

	api := s.router.Group("/api")
	api.GET("/frame", s.getFrame)
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)
	api.GET("/export.csv", s.exportCSV)
	api.GET("/cursors", s.getCursors)
	api.GET("/version", s.getVersion)

	s.router.GET("/ws", s.streamFrames)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.listen).Msg("monitor server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitor server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("monitor server shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) getFrame(c *gin.Context) {
	f := s.backend.Latest()
	if f == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Settings())
}

func (s *Server) putSettings(c *gin.Context) {
	var patch engine.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings, err := s.backend.ApplyPatch(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Interface("patch", patch).Msg("settings updated")
	c.JSON(http.StatusOK, settings)
}

func (s *Server) exportCSV(c *gin.Context) {
	f := s.backend.Latest()
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame captured yet"})
		return
	}
	name := fmt.Sprintf("miniscope_%s.csv", f.Time.UTC().Format("20060102T150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, f.Ch1.Volts, f.Ch2.Volts); err != nil {
		s.logger.Error().Err(err).Msg("csv export failed")
	}
}

type cursorQuery struct {
	Channel int      `form:"channel"`
	T1      float64  `form:"t1"`
	T2      float64  `form:"t2"`
	Y1      *float64 `form:"y1"`
	Y2      *float64 `form:"y2"`
}

// getCursors reads two time cursors (seconds from the window start) on one
// channel of the latest frame, and optionally two voltage cursors.
func (s *Server) getCursors(c *gin.Context) {
	q := cursorQuery{Channel: 1}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Channel != 1 && q.Channel != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel must be 1 or 2"})
		return
	}

	f := s.backend.Latest()
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame captured yet"})
		return
	}
	volts := f.Ch1.Volts
	if q.Channel == 2 {
		volts = f.Ch2.Volts
	}

	resp := gin.H{}
	if tr, ok := measure.TimeCursors(volts, f.SampleRate, q.T1, q.T2); ok {
		resp["time"] = tr
	}
	if q.Y1 != nil && q.Y2 != nil {
		resp["voltage"] = measure.VoltageCursors(*q.Y1, *q.Y2)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}

// streamFrames pushes every new frame to the client until it disconnects.
func (s *Server) streamFrames(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frames
	ctx := conn.CloseRead(c.Request.Context())
	s.logger.Debug().Str("remote", c.Request.RemoteAddr).Msg("frame stream opened")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			f := s.backend.Latest()
			if f == nil || f.Seq == last {
				continue
			}
			last = f.Seq
			if err := wsjson.Write(ctx, conn, f); err != nil {
				s.logger.Debug().Err(err).Msg("frame stream closed")
				return
			}
		}
	}
}
