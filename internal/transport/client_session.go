package transport

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
	"github.com/rs/zerolog"
)

// ClientSessionHandler parses a one-shot burst of task descriptors from
// a submission client and feeds each valid line into the Store (spec
// §4.3, §6). The connection is closed after the burst is consumed.
type ClientSessionHandler struct {
	store *store.Store
}

// NewClientSessionHandler builds a handler bound to st.
func NewClientSessionHandler(st *store.Store) *ClientSessionHandler {
	return &ClientSessionHandler{store: st}
}

// Handle reads every line the client sends, submitting one task per
// well-formed line, until the client closes its side of the connection.
func (h *ClientSessionHandler) Handle(conn net.Conn, r *bufio.Reader) {
	defer conn.Close()
	logger := log.WithComponent("client-session")

	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			h.submitLine(logger, trimmed)
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn().Err(err).Msg("client read error")
			}
			return
		}
	}
}

// submitLine parses "<task_id>:<workload>:<memory_mb>:<deps>". memory_mb
// defaults to DefaultMemoryMB when absent; a malformed memory_mb skips
// just that line (spec §12). deps is comma-separated and recorded but
// never consulted for admission (spec §3 Non-goals).
func (h *ClientSessionHandler) submitLine(logger zerolog.Logger, line string) {
	fields := strings.SplitN(line, ":", 4)
	if len(fields) < 2 || fields[0] == "" {
		logger.Warn().Str("line", line).Msg("malformed task descriptor, skipping")
		return
	}

	taskID := fields[0]
	workload := fields[1]

	memMB := types.DefaultMemoryMB
	if len(fields) >= 3 && fields[2] != "" {
		v, err := strconv.Atoi(fields[2])
		if err != nil {
			logger.Warn().Str("line", line).Msg("malformed memory_mb, skipping line")
			return
		}
		memMB = v
	}

	var deps []string
	if len(fields) == 4 && fields[3] != "" {
		deps = strings.Split(fields[3], ",")
	}

	h.store.SubmitTask(taskID, workload, memMB, deps)
	logger.Info().Str("task_id", taskID).Int("memory_mb", memMB).Msg("task submitted")
}
