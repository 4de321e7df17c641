package transport

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
	"github.com/rs/zerolog"
)

// NodeSessionHandler owns the lifecycle of one node connection: it
// parses the REGISTER line, installs the node in the Store, and then
// reads TASK_DONE reports until the peer disconnects (spec §4.2, §6).
type NodeSessionHandler struct {
	store *store.Store
}

// NewNodeSessionHandler builds a handler bound to st.
func NewNodeSessionHandler(st *store.Store) *NodeSessionHandler {
	return &NodeSessionHandler{store: st}
}

// Handle parses the REGISTER line on conn, registers the node, and
// blocks reading subsequent lines until the connection closes.
func (h *NodeSessionHandler) Handle(conn net.Conn, r *bufio.Reader) {
	defer conn.Close()

	line, err := r.ReadString('\n')
	if err != nil {
		log.Errorf("read register line", err)
		return
	}

	node, err := parseRegister(conn, line)
	if err != nil {
		log.Errorf("parse register line", err)
		return
	}
	node.SetConn(conn)

	logger := log.WithNodeID(node.ID)
	logger.Info().
		Str("ip", node.IP.String()).
		Int("listen_port", node.ListenPort).
		Int("memory_mb", node.AvailableMemMB).
		Msg("node registered")

	if previous := h.store.RegisterNode(node); previous != nil {
		logger.Warn().Msg("node re-registered, closing prior session")
		if pc := previous.Conn(); pc != nil {
			pc.Close()
		}
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			logger.Info().Msg("node disconnected")
			h.store.EvictNode(node, "disconnect")
			return
		}
		h.handleLine(node, logger, line)
	}
}

func (h *NodeSessionHandler) handleLine(node *types.Node, logger zerolog.Logger, line string) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "TASK_DONE" {
		logger.Warn().Str("line", strings.TrimSpace(line)).Msg("unrecognized node message")
		return
	}
	taskID := fields[1]
	if h.store.CompleteTask(node.ID, taskID) {
		logger.Info().Str("task_id", taskID).Msg("task completed")
	}
}

// parseRegister parses "REGISTER <node_id> <listen_port> <available_memory_mb>".
// The node's IP is taken from conn's peer address, never from the
// payload (spec §3).
func parseRegister(conn net.Conn, line string) (*types.Node, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != registerToken {
		return nil, fmt.Errorf("malformed register line: %q", strings.TrimSpace(line))
	}

	listenPort, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, err
	}
	memMB, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, err
	}

	return &types.Node{
		ID:              fields[1],
		IP:              net.ParseIP(host),
		ListenPort:      listenPort,
		InitialMemoryMB: memMB,
		AvailableMemMB:  memMB,
	}, nil
}
