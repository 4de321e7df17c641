// Package status implements the Status Publisher: a one-shot TCP
// responder on its own port that dumps the current Node/Task snapshot
// in the wire format the Dashboard renders (spec §4.6, §6).
package status

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/rs/zerolog"
)

// Publisher serves one snapshot per accepted connection, then closes it.
type Publisher struct {
	ln    net.Listener
	store *store.Store

	stopCh chan struct{}
}

// New binds addr and returns a Publisher ready to Serve.
func New(addr string, st *store.Store) (*Publisher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{ln: ln, store: st, stopCh: make(chan struct{})}, nil
}

// Addr returns the bound address.
func (p *Publisher) Addr() net.Addr { return p.ln.Addr() }

// Serve accepts connections until Stop is called, writing one snapshot
// to each and closing it.
func (p *Publisher) Serve() {
	logger := log.WithComponent("status-publisher")
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		p.respond(conn, logger)
	}
}

// Stop closes the listening socket, unblocking Serve.
func (p *Publisher) Stop() {
	close(p.stopCh)
	p.ln.Close()
}

func (p *Publisher) respond(conn net.Conn, logger zerolog.Logger) {
	defer conn.Close()

	reqLogger := log.WithRequestID(logger, uuid.New().String())
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))

	nodes, tasks := p.store.Snapshot()

	w := bufio.NewWriter(conn)
	fmt.Fprintln(w, "NODES")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s,%s,%d,%d,%s\n", n.ID, n.IP, n.ListenPort, n.AvailableMemMB, n.Health)
	}
	fmt.Fprintln(w, "TASKS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s,%s,%s,%d\n", t.ID, t.Status, t.AssignedNode, t.MemoryMB)
	}
	if err := w.Flush(); err != nil {
		reqLogger.Error().Err(err).Msg("snapshot write failed")
		return
	}
	reqLogger.Debug().
		Int("nodes", len(nodes)).Int("tasks", len(tasks)).
		Msg("snapshot served")
}
