package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"newsrelay/internal/api"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
)

// APIServer serves the operator HTTP API.
type APIServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the server for d. It returns nil when no bind address
// is configured.
func NewAPIServer(d *Daemon) *APIServer {
	if d == nil {
		return nil
	}
	bind := strings.TrimSpace(d.rt.Config.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &APIServer{
		bind:   bind,
		logger: logging.NewComponentLogger(d.rt.Logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           NewRouter(d, d.rt.Config.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// NewRouter returns the gin engine serving the API for d.
func NewRouter(d *Daemon, token string) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logging.NewComponentLogger(d.rt.Logger, "http")))

	h := &handlers{daemon: d}
	group := router.Group("/api", authMiddleware(token))
	group.GET("/status", h.status)
	group.POST("/ingest", h.ingest)
	group.POST("/consume", h.consume)
	group.GET("/records", h.records)
	group.GET("/records/:id", h.record)
	group.GET("/deadletters", h.deadLetters)
	group.GET("/deadletters/:id", h.deadLetter)
	group.POST("/deadletters/:id/replay", h.replay)
	group.GET("/events", h.events)
	return router
}

// Start listens on the configured address and serves until ctx ends.
func (s *APIServer) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *APIServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *APIServer) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

type handlers struct {
	daemon *Daemon
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.daemon.Status(c.Request.Context()))
}

func (h *handlers) ingest(c *gin.Context) {
	resp := h.daemon.Service().Ingest(c.Request.Context())
	c.JSON(resp.Code.HTTPStatus(), resp)
}

func (h *handlers) consume(c *gin.Context) {
	resp := h.daemon.Service().Consume(c.Request.Context())
	if resp.Code == api.CodeEmpty {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(resp.Code.HTTPStatus(), resp)
}

func (h *handlers) records(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.daemon.Service().Records(c.Request.Context(), c.QueryArray("status"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.RecordListResponse{Records: records})
}

func (h *handlers) record(c *gin.Context) {
	detail, err := h.daemon.Service().Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *handlers) deadLetters(c *gin.Context) {
	includeReplayed, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	entries, err := h.daemon.Service().DeadLetterList(c.Request.Context(), includeReplayed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.DeadLetterListResponse{Entries: entries})
}

func (h *handlers) deadLetter(c *gin.Context) {
	entry, err := h.daemon.Service().DeadLetter(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *handlers) replay(c *gin.Context) {
	resp, err := h.daemon.Service().Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case api.IsConflict(err):
		status = http.StatusConflict
	case services.KindOf(err) == services.KindNotFound:
		status = http.StatusNotFound
	case services.KindOf(err) == services.KindMalformedData:
		status = http.StatusBadRequest
	case services.Retryable(err):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, api.ErrorBody(err))
}
