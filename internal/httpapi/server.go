package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emocall/internal/analytics"
	"emocall/internal/domain"
	"emocall/internal/logger"
	"emocall/internal/ports"
)

// SessionView is the read side of the session controller.
type SessionView interface {
	Status() domain.Status
	Timeline() []domain.TimelinePoint
	CurrentEmotion() *domain.EmotionEvent
}

// Exporter renders a user's call history.
type Exporter interface {
	Export(ctx context.Context, userID, format string) (string, error)
}

// Deps are the handlers' collaborators. Exporter and Identity may be nil.
type Deps struct {
	Session  SessionView
	Exporter Exporter
	Identity ports.Identity
}

// NewRouter builds the diagnostics API.
func NewRouter(deps Deps, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  deps.Session.Status(),
			"current": deps.Session.CurrentEmotion(),
		})
	})
	api.GET("/timeline", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"timeline": deps.Session.Timeline()})
	})
	api.GET("/calls/export", exportHandler(deps))
	return r
}

func exportHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Exporter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "call history is not configured"})
			return
		}
		userID := c.Query("user")
		if userID == "" && deps.Identity != nil {
			if user := deps.Identity.CurrentUser(); user != nil {
				userID = user.UID
			}
		}
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no signed-in user"})
			return
		}

		format := strings.ToLower(c.DefaultQuery("format", analytics.FormatCSV))
		contentType := "text/csv; charset=utf-8"
		switch format {
		case analytics.FormatCSV:
		case analytics.FormatJSON:
			contentType = "application/json; charset=utf-8"
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", format)})
			return
		}

		out, err := deps.Exporter.Export(c.Request.Context(), userID, format)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="calls-export.%s"`, format))
		c.Data(http.StatusOK, contentType, []byte(out))
	}
}

// Server serves the router on a loopback address.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr, which must be a loopback host, and starts serving.
func Listen(addr string, handler http.Handler, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics addr %q: %w", addr, err)
	}
	if !isLoopback(host) {
		return nil, fmt.Errorf("diagnostics addr %q must be loopback", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics listen: %w", err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ln:     ln,
		logger: log.With("component", "diagnostics"),
	}
	go func() {
		s.logger.Info("diagnostics listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server failed", "error", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
