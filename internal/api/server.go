// Package api serves the gethkeeper HTTP API: node control, status, output
// and log streams, and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/gethkeeper/internal/api/models"
	"github.com/smazurov/gethkeeper/internal/events"
	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/node"
	"github.com/smazurov/gethkeeper/internal/process"
	"github.com/smazurov/gethkeeper/internal/systemd"
	"github.com/smazurov/gethkeeper/internal/version"
)

const authRealm = `Basic realm="gethkeeper"`

// NodeController is the node service as seen by the API.
type NodeController interface {
	Start(ctx context.Context) (process.Info, error)
	Stop(ctx context.Context) (int, error)
	Restart(ctx context.Context) (process.Info, error)
	Reload(ctx context.Context) (bool, error)
	Status() process.Info
	Options() *geth.Options
	Output(n int) []node.OutputLine
}

// ServiceManager controls the systemd unit gethkeeper runs in.
type ServiceManager interface {
	Status(ctx context.Context, unit string) (systemd.UnitStatus, error)
	Restart(ctx context.Context, unit string) (string, error)
	Stop(ctx context.Context, unit string) (string, error)
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Node     NodeController
	EventBus *events.Bus

	// SystemdManager and ServiceUnit enable /api/systemd routes (optional).
	SystemdManager ServiceManager
	ServiceUnit    string

	// Updater enables /api/update routes (optional).
	Updater Updater

	// CORSOrigins lists browser origins allowed to call the API.
	// Empty allows any origin.
	CORSOrigins []string

	// MetricsInterval is the /api/metrics sample period. Default is 5s.
	MetricsInterval time.Duration

	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	handler    http.Handler
	listener   net.Listener
	httpServer *http.Server
	node       NodeController
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	cors := newCORS(opts.CORSOrigins)

	config := huma.DefaultConfig("gethkeeper API", version.String())
	config.Info.Description = "Supervisor API for a single geth node"
	// Relative paths work behind any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}
	server := &Server{
		api:      api,
		handler:  cors.wrap(mux),
		node:     opts.Node,
		eventBus: eventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	// CORS first, then logging, then auth
	api.UseMiddleware(cors.middleware)
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// basicAuthMiddleware creates middleware for HTTP basic authentication.
// SSE clients that cannot set headers pass base64 credentials in ?auth=.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		encoded := ""
		if authHeader := ctx.Header("Authorization"); authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				s.unauthorized(ctx, "Invalid authentication type")
				return
			}
			encoded = authHeader[len(prefix):]
		} else {
			encoded = ctx.Query("auth")
		}
		if encoded == "" {
			s.unauthorized(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			s.unauthorized(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			s.unauthorized(ctx, "Invalid credentials format")
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			s.unauthorized(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

func (s *Server) unauthorized(ctx huma.Context, msg string, errs ...error) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Listen binds addr without serving it yet, so a busy port is reported
// before anything else starts.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting gethkeeper API server", "addr", ln.Addr().String())
	s.logger.Info("OpenAPI documentation available", "url", "http://"+ln.Addr().String()+"/docs")
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections on the address bound by Listen until Stop. It
// returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("api server is not listening")
	}
	return s.httpServer.Serve(s.listener)
}

// Start binds addr and serves it until Stop.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Stop shuts the server down. Open SSE streams are cut when ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	err := s.httpServer.Shutdown(ctx)
	// Shutdown does not close a listener that never reached Serve.
	_ = s.listener.Close()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return s.httpServer.Close()
	}
	return err
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	if s.node != nil {
		s.registerNodeRoutes()
	}
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerMetricsRoutes()
	s.registerSystemdRoutes()
	s.registerUpdateRoutes()
}

// withAuth returns security requirement for basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
