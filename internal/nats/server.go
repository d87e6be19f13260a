package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/smazurov/gethkeeper/internal/logging"
)

const (
	defaultServerHost  = "127.0.0.1"
	defaultServerPort  = 4222
	defaultReadyWithin = 5 * time.Second
	maxPayload         = 1 << 20
)

// ServerOptions configures the embedded NATS server.
type ServerOptions struct {
	Host string
	Port int // -1 picks a free port
	Name string
	// ReadyTimeout bounds Start. Default is 5s.
	ReadyTimeout time.Duration
	// Debug forwards the server's debug lines to Logger.
	Debug  bool
	Logger logging.Logger
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.Host == "" {
		o.Host = defaultServerHost
	}
	if o.Port == 0 {
		o.Port = defaultServerPort
	}
	if o.Name == "" {
		o.Name = DefaultPrefix
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyWithin
	}
	if o.Logger == nil {
		o.Logger = logging.GetLogger("nats")
	}
	return o
}

// Server is an in-process NATS broker for hosts that do not run one.
type Server struct {
	opts ServerOptions
	ns   *server.Server
}

// NewServer creates an embedded NATS server. It does not listen until Start.
func NewServer(opts ServerOptions) *Server {
	return &Server{opts: opts.withDefaults()}
}

// Start launches the server and blocks until it accepts connections or
// ReadyTimeout passes.
func (s *Server) Start() error {
	if s.ns != nil {
		return errors.New("NATS server already started")
	}

	ns, err := server.NewServer(&server.Options{
		Host:           s.opts.Host,
		Port:           s.opts.Port,
		ServerName:     s.opts.Name,
		NoSigs:         true, // signals belong to the host process
		MaxControlLine: 4096,
		MaxPayload:     maxPayload,
	})
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	ns.SetLoggerV2(serverLog{s.opts.Logger}, s.opts.Debug, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(s.opts.ReadyTimeout) {
		ns.Shutdown()
		return fmt.Errorf("NATS server not ready within %s", s.opts.ReadyTimeout)
	}

	s.ns = ns
	s.opts.Logger.Info("NATS server started", "url", s.ClientURL())
	return nil
}

// Stop shuts the server down and waits for it to finish.
func (s *Server) Stop() {
	ns := s.ns
	if ns == nil {
		return
	}
	s.ns = nil
	s.opts.Logger.Info("Stopping NATS server")
	ns.Shutdown()
	ns.WaitForShutdown()
}

// ClientURL returns the URL clients should connect to. Before Start it is
// derived from the options.
func (s *Server) ClientURL() string {
	if s.ns != nil {
		return s.ns.ClientURL()
	}
	return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	if s.ns == nil {
		return 0
	}
	return s.ns.NumClients()
}

// serverLog adapts the broker's printf-style logger to ours.
type serverLog struct {
	l logging.Logger
}

func (s serverLog) Noticef(format string, v ...any) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s serverLog) Warnf(format string, v ...any)   { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s serverLog) Fatalf(format string, v ...any)  { s.l.Error(fmt.Sprintf(format, v...)) }
func (s serverLog) Errorf(format string, v ...any)  { s.l.Error(fmt.Sprintf(format, v...)) }
func (s serverLog) Debugf(format string, v ...any)  { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s serverLog) Tracef(format string, v ...any)  { s.l.Debug(fmt.Sprintf(format, v...)) }
