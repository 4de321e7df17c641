// Package nodeagent implements the Worker Node agent: the external
// collaborator that registers with the Manager, accepts one-shot task
// assignments on its own listen port, and reports completion back over
// its persistent session socket (spec §6, grounded on
// original_source/src/node/node_agent.cpp).
package nodeagent

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/rs/zerolog"
)

// Config controls an Agent's identity, manager endpoint, and synthetic
// task execution delay.
type Config struct {
	NodeID       string
	ManagerIP    string
	ManagerPort  int
	ListenPort   int
	MemoryMB     int
	WorkDuration time.Duration
	DialTimeout  time.Duration
}

// Agent is one running node process.
type Agent struct {
	cfg Config

	managerConn net.Conn
	ln          net.Listener

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds an Agent. It does not connect or bind until Run is called.
func New(cfg Config) *Agent {
	return &Agent{cfg: cfg, stopCh: make(chan struct{})}
}

// Run connects to the Manager, registers, and serves task assignments
// until ctx is cancelled or a SHUTDOWN payload arrives from the Manager.
func (a *Agent) Run(ctx context.Context) error {
	logger := log.WithNodeID(a.cfg.NodeID)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(a.cfg.ManagerIP, strconv.Itoa(a.cfg.ManagerPort)), a.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("connect to manager: %w", err)
	}
	a.managerConn = conn
	logger.Info().Str("manager", conn.RemoteAddr().String()).Msg("connected to manager")

	reg := fmt.Sprintf("REGISTER %s %d %d\n", a.cfg.NodeID, a.cfg.ListenPort, a.cfg.MemoryMB)
	if _, err := conn.Write([]byte(reg)); err != nil {
		conn.Close()
		return fmt.Errorf("send register: %w", err)
	}
	logger.Info().Msg("registration sent")

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.ListenPort)))
	if err != nil {
		conn.Close()
		return fmt.Errorf("bind task listener: %w", err)
	}
	a.ln = ln
	logger.Info().Int("port", a.cfg.ListenPort).Msg("listening for task assignments")

	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	a.acceptLoop(logger)
	return nil
}

// acceptLoop accepts one-shot task-assignment connections until the
// listener is closed (by shutdown, or by receiving SHUTDOWN from the
// Manager on one of those connections).
func (a *Agent) acceptLoop(logger zerolog.Logger) {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		if a.handleAssignment(conn, logger) {
			a.shutdown()
			return
		}
	}
}

// handleAssignment reads the raw, unframed payload off conn: either a
// task ID to execute, or the literal SHUTDOWN token. It returns true if
// the agent should stop.
func (a *Agent) handleAssignment(conn net.Conn, logger zerolog.Logger) bool {
	defer conn.Close()

	r := bufio.NewReader(conn)
	raw, _ := r.ReadString('\n')
	payload := strings.TrimSpace(raw)
	if payload == "" {
		// ReadString already returns an unterminated payload (the
		// Scheduler's one-shot dial sends no newline) once the writer
		// closes; this direct read only runs when it returned nothing.
		buf := make([]byte, 1024)
		n, _ := conn.Read(buf)
		payload = strings.TrimSpace(string(buf[:n]))
	}
	if payload == "" {
		return false
	}

	if payload == "SHUTDOWN" {
		logger.Info().Msg("received shutdown from manager")
		return true
	}

	a.executeTask(payload, logger)
	return false
}

// executeTask simulates work for WorkDuration, then reports completion
// on the persistent manager connection (spec §6, §12).
func (a *Agent) executeTask(taskID string, logger zerolog.Logger) {
	logger.Info().Str("task_id", taskID).Msg("received task")
	if a.cfg.WorkDuration > 0 {
		time.Sleep(a.cfg.WorkDuration)
	}
	logger.Info().Str("task_id", taskID).Msg("completed task")

	done := fmt.Sprintf("TASK_DONE %s\n", taskID)
	if _, err := a.managerConn.Write([]byte(done)); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to report completion")
	}
}

// shutdown closes both sockets, idempotently.
func (a *Agent) shutdown() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		if a.ln != nil {
			a.ln.Close()
		}
		if a.managerConn != nil {
			a.managerConn.Close()
		}
	})
}
