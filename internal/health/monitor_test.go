package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	down map[string]bool
}

func (f *fakeChecker) Check(_ context.Context, ip net.IP, port int) bool {
	key := ip.String()
	return !f.down[key]
}

// TestSweepEvictsDownNode covers the Health Monitor side of node
// eviction (spec §4.5): a failed probe removes the node and requeues
// its assigned work.
func TestSweepEvictsDownNode(t *testing.T) {
	st := store.New()
	st.RegisterNode(&types.Node{ID: "n1", IP: net.ParseIP("10.0.0.1"), ListenPort: 1, AvailableMemMB: 256})
	st.SubmitTask("t1", "x", 64, nil)
	st.DrainReadyQueue(func(*types.Node, string) error { return nil })

	checker := &fakeChecker{down: map[string]bool{"10.0.0.1": true}}
	mon := NewMonitor(st, checker, time.Hour)

	mon.sweep()

	assert.Equal(t, 0, st.NodeCount())
	status, _ := st.TaskStatus("t1")
	assert.Equal(t, types.TaskQueued, status)
}

func TestSweepLeavesHealthyNodeAlone(t *testing.T) {
	st := store.New()
	st.RegisterNode(&types.Node{ID: "n1", IP: net.ParseIP("10.0.0.2"), ListenPort: 1, AvailableMemMB: 256})

	checker := &fakeChecker{down: map[string]bool{}}
	mon := NewMonitor(st, checker, time.Hour)

	mon.sweep()

	assert.Equal(t, 1, st.NodeCount())
}

func TestTCPCheckerDetectsClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	checker := NewTCPChecker(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.False(t, checker.Check(ctx, net.ParseIP(addr.IP.String()), addr.Port))
}

func TestTCPCheckerDetectsOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	checker := NewTCPChecker(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.True(t, checker.Check(ctx, net.ParseIP(addr.IP.String()), addr.Port))
}
