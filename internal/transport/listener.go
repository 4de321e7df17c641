// Package transport implements the Manager's inbound TCP surface: the
// Transport Listener that classifies each accepted connection, the Node
// Session Handler, and the Client Session Handler (spec §4.1-4.3).
package transport

import (
	"bufio"
	"net"

	"github.com/jobmesh/dispatchd/internal/log"
)

// registerToken is the literal prefix (spec §4.1) that marks an
// incoming connection as a node registration rather than a client task
// submission.
const registerToken = "REGISTER"

// Session is implemented by NodeSessionHandler and ClientSessionHandler.
type Session interface {
	Handle(conn net.Conn, r *bufio.Reader)
}

// Listener accepts inbound connections and routes each to a node or
// client session handler based on a non-consuming peek at its first
// bytes.
type Listener struct {
	ln           net.Listener
	nodeSession  Session
	clientSesson Session
	stopCh       chan struct{}
}

// New binds addr and returns a Listener ready to Serve.
func New(addr string, nodeSession, clientSession Session) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:           ln,
		nodeSession:  nodeSession,
		clientSesson: clientSession,
		stopCh:       make(chan struct{}),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until Stop is called. Accept errors are
// logged and do not terminate the loop (spec §4.1).
func (l *Listener) Serve() {
	logger := log.WithComponent("transport")
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go l.route(conn)
	}
}

// Stop closes the listening socket, unblocking Serve.
func (l *Listener) Stop() {
	close(l.stopCh)
	l.ln.Close()
}

func (l *Listener) route(conn net.Conn) {
	r := bufio.NewReader(conn)
	peeked, _ := r.Peek(len(registerToken))
	if string(peeked) == registerToken {
		l.nodeSession.Handle(conn, r)
		return
	}
	l.clientSesson.Handle(conn, r)
}
