package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aeolun/squadrelay/pkg/database"
	"github.com/aeolun/squadrelay/pkg/lobby"
	"github.com/aeolun/squadrelay/pkg/protocol"
)

// Server represents the SquadRelay server
type Server struct {
	config      ServerConfig
	logger      *zap.Logger
	lobby       *lobby.Lobby
	connections *ConnectionManager
	metrics     *Metrics
	registry    *prometheus.Registry
	history     HistoryStore
	info        protocol.ServerInfoMessage

	httpServer      *http.Server
	metricsServer   *http.Server
	listener        net.Listener
	metricsListener net.Listener
	group           *errgroup.Group

	startTime time.Time
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host        string
	Port        int
	ServerName  string
	Region      string
	StaticDir   string
	MetricsAddr string

	DirectoryTTL  time.Duration
	SweepInterval time.Duration

	SendQueueSize int
	WriteTimeout  time.Duration
	PongTimeout   time.Duration
	StatsInterval time.Duration

	HistoryPath            string
	HistoryRetention       time.Duration
	HistoryCleanupInterval time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Port:                   3000,
		ServerName:             "SquadRelay",
		MetricsAddr:            ":9090",
		DirectoryTTL:           lobby.DefaultDirectoryTTL,
		SweepInterval:          lobby.DefaultSweepInterval,
		SendQueueSize:          64,
		WriteTimeout:           10 * time.Second,
		PongTimeout:            60 * time.Second,
		StatsInterval:          60 * time.Second,
		HistoryRetention:       7 * 24 * time.Hour,
		HistoryCleanupInterval: 60 * time.Minute,
	}
}

// Addr returns the host:port the HTTP server binds to
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewServer creates a new server instance
func NewServer(config ServerConfig, logger *zap.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)

	connections := NewConnectionManager(logger)
	connections.SetMetrics(metrics)

	lb := lobby.New(connections, logger, lobby.WithDirectoryTTL(config.DirectoryTTL))
	lb.SetMetrics(metrics)

	s := &Server{
		config:      config,
		logger:      logger,
		lobby:       lb,
		connections: connections,
		metrics:     metrics,
		registry:    registry,
		info:        config.ServerInfo(),
		shutdown:    make(chan struct{}),
	}

	if config.HistoryPath != "" {
		db, err := database.Open(config.HistoryPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		s.history = db
		lb.SetHistory(db)
	}

	return s, nil
}

// Lobby returns the session state machine
func (s *Server) Lobby() *lobby.Lobby {
	return s.lobby
}

// Start binds the listeners and starts the background loops
func (s *Server) Start() error {
	s.startTime = time.Now()

	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.config.MetricsAddr != "" {
		ml, err := net.Listen("tcp", s.config.MetricsAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.config.MetricsAddr, err)
		}
		s.metricsListener = ml
		s.metricsServer = &http.Server{
			Handler:           s.MetricsRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	s.group = new(errgroup.Group)
	s.group.Go(func() error {
		return serve(s.httpServer, s.listener)
	})
	if s.metricsServer != nil {
		s.group.Go(func() error {
			return serve(s.metricsServer, s.metricsListener)
		})
	}

	s.logger.Info("server listening",
		zap.String("addr", s.listener.Addr().String()),
		zap.String("name", s.config.ServerName),
		zap.String("region", s.info.Region))
	if s.metricsListener != nil {
		s.logger.Info("metrics listening", zap.String("addr", s.metricsListener.Addr().String()))
	}

	s.wg.Add(1)
	go s.sweepLoop()

	s.wg.Add(1)
	go s.statsLoop()

	if s.history != nil {
		s.wg.Add(1)
		go s.historyCleanupLoop()
	}

	return nil
}

func serve(srv *http.Server, l net.Listener) error {
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until the HTTP servers exit
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Addr returns the bound address of the HTTP listener
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MetricsAddr returns the bound address of the metrics listener
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		s.notifyClientsOfShutdown()

		// Hijacked websocket connections are not tracked by Shutdown
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				stopErr = errors.Join(stopErr, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if s.metricsServer != nil {
			if err := s.metricsServer.Shutdown(ctx); err != nil {
				stopErr = errors.Join(stopErr, fmt.Errorf("metrics shutdown: %w", err))
			}
		}

		s.connections.CloseAll()
		if err := s.connections.WaitEmpty(ctx); err != nil {
			s.logger.Warn("connections still open at shutdown", zap.Int("count", s.connections.Count()))
		}

		s.wg.Wait()

		if err := s.Wait(); err != nil {
			stopErr = errors.Join(stopErr, err)
		}

		if s.history != nil {
			if err := s.history.Close(); err != nil {
				stopErr = errors.Join(stopErr, fmt.Errorf("close history: %w", err))
			}
		}

		s.logger.Info("server stopped")
	})
	return stopErr
}

// notifyClientsOfShutdown tells every live connection that the server is going away
func (s *Server) notifyClientsOfShutdown() {
	frame, err := protocol.NewFrame(protocol.EventServerShutdown, &protocol.ShutdownMessage{
		Reason: protocol.ReasonServerShutdown,
	})
	if err != nil {
		s.logger.Error("failed to build shutdown frame", zap.Error(err))
		return
	}
	sent := s.connections.Broadcast(frame)
	s.logger.Info("notified clients of shutdown", zap.Int("clients", sent))
}

// sweepLoop periodically drops expired directory entries
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if n := s.lobby.SweepExpired(); n > 0 {
				s.logger.Debug("swept expired directory entries", zap.Int("count", n))
			}
		}
	}
}

// statsLoop periodically logs connection and session counts
func (s *Server) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Server) logStats() {
	stats := s.lobby.Stats()
	s.logger.Info("stats",
		zap.Int("connections", s.connections.Count()),
		zap.Int64("connected", s.connectionsSinceReport.Swap(0)),
		zap.Int64("disconnected", s.disconnectionsSinceReport.Swap(0)),
		zap.Int("sessions", stats.Sessions),
		zap.Int("members", stats.Members),
		zap.Int("directory", stats.DirectoryEntries))
}

// historyCleanupLoop periodically prunes old session history
func (s *Server) historyCleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HistoryCleanupInterval)
	defer ticker.Stop()

	s.pruneHistory()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pruneHistory()
		}
	}
}

func (s *Server) pruneHistory() {
	cutoff := time.Now().Add(-s.config.HistoryRetention)
	count, err := s.history.PruneSessionEvents(cutoff)
	if err != nil {
		s.logger.Error("failed to prune session history", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("pruned session history", zap.Int64("count", count))
	}
}
