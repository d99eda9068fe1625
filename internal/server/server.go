package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"polychat/internal/auth"
	"polychat/internal/chat"
	"polychat/internal/config"
	"polychat/internal/router"
	"polychat/internal/store"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

const (
	serviceName         = "polychat"
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	// Streams stay open for the whole answer.
	writeTimeout = 10 * time.Minute
	idleTimeout  = 120 * time.Second
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	chat    *chat.Service
	store   store.Store
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router, svc *chat.Service, st store.Store, owners *auth.Resolver) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}
	if svc == nil {
		return nil, errors.New("chat service must not be nil")
	}
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if owners == nil {
		return nil, errors.New("owner resolver must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:  true,
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"remote_ip", v.RemoteIP,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, cfg.Auth.GuestHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(owners.Middleware())

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		chat:    svc,
		store:   st,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/", s.handleRoot)
	s.app.GET("/healthz", s.handleHealth)

	api := s.app.Group("/api/v1")
	api.GET("/models", s.handleModels)
	api.POST("/chat/stream", s.handleChatStream, s.rateLimiter()...)

	api.GET("/conversations", s.handleListConversations)
	api.POST("/conversations", s.handleCreateConversation)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.PATCH("/conversations/:id", s.handleRenameConversation)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)
	api.GET("/conversations/:id/messages", s.handleListMessages)
}

// rateLimiter bounds chat requests per client IP. It returns no middleware
// when limiting is disabled.
func (s *Server) rateLimiter() []echo.MiddlewareFunc {
	limit := s.cfg.Server.RateLimit
	if limit.Requests <= 0 || limit.Window <= 0 {
		return nil
	}

	retryAfter := strconv.Itoa(int(math.Ceil(limit.Window.Seconds() / float64(limit.Requests))))
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(limit.Requests) / limit.Window.Seconds()),
		Burst:     limit.Requests,
		ExpiresIn: limit.Window,
	})

	return []echo.MiddlewareFunc{middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: limiterStore,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return requestError{
				Status:  http.StatusForbidden,
				Message: "unable to identify client",
				Type:    "invalid_request_error",
			}
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			slog.Warn("rate limit exceeded", "client", identifier)
			c.Response().Header().Set("Retry-After", retryAfter)
			return requestError{
				Status:  http.StatusTooManyRequests,
				Message: "rate limit exceeded, please retry later",
				Type:    "rate_limit_error",
			}
		},
	})}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		errType := "invalid_request_error"
		switch {
		case he.Code == http.StatusNotFound:
			errType = "not_found_error"
		case he.Code >= http.StatusInternalServerError:
			errType = "server_error"
		}
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), errType, "")
		return
	}

	slog.Error("unhandled request error", "uri", c.Request().RequestURI, "err", err)
	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, chat.ErrConversationNotFound) || errors.Is(err, store.ErrNotFound) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: "conversation not found",
			Type:    "not_found_error",
		}
	}

	slog.Error("store operation failed", "err", err)
	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "storage error",
		Type:    "server_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("polychat ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /healthz")
	fmt.Println("  GET  /api/v1/models")
	fmt.Println("  POST /api/v1/chat/stream")
	fmt.Println("  GET  /api/v1/conversations")
	fmt.Println("Models without a configured key answer in mock mode.")
	fmt.Printf("Example:\n  curl -N http://%s:%d/api/v1/chat/stream -H 'Content-Type: application/json' -d '{\"model\":\"gpt-4o-mini\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
