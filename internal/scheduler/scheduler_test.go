package scheduler

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenOnFreePort binds an ephemeral TCP port and returns a one-shot
// accept loop that records every payload it receives.
func listenOnFreePort(t *testing.T) (port int, received chan string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	received = make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 256)
				n, _ := conn.Read(buf)
				received <- string(buf[:n])
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.Port, received, func() { ln.Close() }
}

// TestSchedulerDispatchesOverRealSocket exercises the Scheduler's
// dispatch function against a real listener, confirming the raw,
// unframed task ID is what crosses the wire (spec §6).
func TestSchedulerDispatchesOverRealSocket(t *testing.T) {
	st := store.New()
	port, received, closeFn := listenOnFreePort(t)
	defer closeFn()

	st.RegisterNode(&types.Node{
		ID:             "n1",
		IP:             net.ParseIP("127.0.0.1"),
		ListenPort:     port,
		AvailableMemMB: 256,
	})
	st.SubmitTask("t1", "echo hi", 64, nil)

	sched := New(st, 10*time.Millisecond, time.Second)

	select {
	case <-waitForTick(sched, st):
	case <-time.After(time.Second):
		t.Fatal("tick never ran")
	}

	select {
	case payload := <-received:
		assert.Equal(t, "t1", payload)
	case <-time.After(time.Second):
		t.Fatal("node never received task assignment")
	}
}

// waitForTick runs a single tick directly rather than starting the
// ticker, keeping the test deterministic.
func waitForTick(sched *Scheduler, st *store.Store) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		sched.tick()
		once.Do(func() { close(done) })
	}()
	return done
}

func TestStartStopIsSafe(t *testing.T) {
	st := store.New()
	sched := New(st, time.Millisecond, time.Second)
	sched.Start()
	sched.Stop()
}
