// Package manager wires the Manager's components together: the State
// Store, Scheduler, Health Monitor, Transport Listener, Status
// Publisher, and the metrics collector, plus the shutdown broadcast
// described in spec §5.
package manager

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jobmesh/dispatchd/internal/config"
	"github.com/jobmesh/dispatchd/internal/health"
	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/metrics"
	"github.com/jobmesh/dispatchd/internal/scheduler"
	"github.com/jobmesh/dispatchd/internal/status"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/transport"
	"github.com/rs/zerolog"
)

// Manager owns every long-running piece of the dispatcher core and their
// shutdown order.
type Manager struct {
	cfg   config.Manager
	store *store.Store

	listener   *transport.Listener
	statusPub  *status.Publisher
	scheduler  *scheduler.Scheduler
	healthMon  *health.Monitor
	collector  *metricsCollector
	metricsSrv *http.Server

	logFile *os.File
}

// New builds a Manager from cfg. It opens the log file and binds the
// transport and status sockets, but does not start any loop — call Run
// for that.
func New(cfg config.Manager) (*Manager, error) {
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     io.MultiWriter(os.Stdout, logFile),
	})

	st := store.New()

	listener, err := transport.New(
		net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		transport.NewNodeSessionHandler(st),
		transport.NewClientSessionHandler(st),
	)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("bind transport listener: %w", err)
	}

	statusPub, err := status.New(net.JoinHostPort("", strconv.Itoa(cfg.StatusPort)), st)
	if err != nil {
		listener.Stop()
		logFile.Close()
		return nil, fmt.Errorf("bind status publisher: %w", err)
	}

	sched := scheduler.New(st, cfg.SchedulerInterval, cfg.DialTimeout)
	checker := health.NewTCPChecker(cfg.DialTimeout)
	monitor := health.NewMonitor(st, checker, cfg.HealthInterval)
	collector := newMetricsCollector(st, cfg.HealthInterval)

	var metricsSrv *http.Server
	if cfg.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:    net.JoinHostPort("", strconv.Itoa(cfg.MetricsPort)),
			Handler: mux,
		}
	}

	return &Manager{
		cfg:        cfg,
		store:      st,
		listener:   listener,
		statusPub:  statusPub,
		scheduler:  sched,
		healthMon:  monitor,
		collector:  collector,
		metricsSrv: metricsSrv,
		logFile:    logFile,
	}, nil
}

// Run starts every loop and blocks until ctx is done, then performs the
// shutdown broadcast (spec §5) before returning.
func (m *Manager) Run(ctx context.Context) error {
	logger := log.WithComponent("manager")

	go m.listener.Serve()
	go m.statusPub.Serve()
	m.scheduler.Start()
	m.healthMon.Start()
	m.collector.Start()
	if m.metricsSrv != nil {
		go func() {
			if err := m.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().
		Int("port", m.cfg.Port).
		Int("status_port", m.cfg.StatusPort).
		Msg("manager started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	m.shutdown(logger)
	return nil
}

// shutdown broadcasts the literal SHUTDOWN payload to every registered
// node on a best-effort one-shot connection, then stops every loop. No
// attempt is made to drain in-flight tasks (spec §5).
func (m *Manager) shutdown(logger zerolog.Logger) {
	for _, n := range m.store.ListNodes() {
		addr := net.JoinHostPort(n.IP.String(), strconv.Itoa(n.ListenPort))
		conn, err := net.DialTimeout("tcp", addr, m.cfg.DialTimeout)
		if err != nil {
			logger.Warn().Str("node_id", n.ID).Err(err).Msg("shutdown broadcast dial failed")
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(m.cfg.DialTimeout))
		if _, err := conn.Write([]byte("SHUTDOWN")); err != nil {
			logger.Warn().Str("node_id", n.ID).Err(err).Msg("shutdown broadcast send failed")
		}
		conn.Close()
	}

	m.scheduler.Stop()
	m.healthMon.Stop()
	m.collector.Stop()
	m.listener.Stop()
	m.statusPub.Stop()
	if m.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		m.metricsSrv.Shutdown(ctx)
		cancel()
	}
	m.logFile.Close()

	logger.Info().Msg("manager stopped")
}
