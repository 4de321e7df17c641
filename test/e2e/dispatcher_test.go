// Package e2e drives the dispatcher core over real TCP sockets,
// end to end, the way a node agent, client, or dashboard would
// (grounded on the teacher's test/framework waiter shape, trimmed to
// this domain's transport).
package e2e

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jobmesh/dispatchd/internal/health"
	"github.com/jobmesh/dispatchd/internal/scheduler"
	"github.com/jobmesh/dispatchd/internal/status"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/transport"
	"github.com/stretchr/testify/require"
)

// harness boots a full in-process Manager core bound to ephemeral
// ports, without cmd/manager's CLI/config/logging wiring.
type harness struct {
	t        *testing.T
	store    *store.Store
	listener *transport.Listener
	sched    *scheduler.Scheduler
	health   *health.Monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.New()

	ln, err := transport.New("127.0.0.1:0",
		transport.NewNodeSessionHandler(st),
		transport.NewClientSessionHandler(st),
	)
	require.NoError(t, err)
	go ln.Serve()

	sched := scheduler.New(st, 20*time.Millisecond, 2*time.Second)
	sched.Start()

	mon := health.NewMonitor(st, health.NewTCPChecker(2*time.Second), time.Hour)
	mon.Start()

	h := &harness{t: t, store: st, listener: ln, sched: sched, health: mon}
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.sched.Stop()
	h.health.Stop()
	h.listener.Stop()
}

func (h *harness) managerAddr() string {
	return h.listener.Addr().String()
}

// fakeNode is a minimal, test-only stand-in for the Worker Node agent:
// it registers, records every assignment it receives, and reports
// completion when told to.
type fakeNode struct {
	id       string
	ln       net.Listener
	conn     net.Conn
	assigned chan string
}

func dialFakeNode(t *testing.T, managerAddr, id string, memMB int) *fakeNode {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	conn, err := net.Dial("tcp", managerAddr)
	require.NoError(t, err)

	_, err = conn.Write([]byte(fmt.Sprintf("REGISTER %s %d %d\n", id, port, memMB)))
	require.NoError(t, err)

	n := &fakeNode{id: id, ln: ln, conn: conn, assigned: make(chan string, 4)}
	go n.acceptLoop()
	return n
}

func (n *fakeNode) acceptLoop() {
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 256)
		nr, _ := conn.Read(buf)
		conn.Close()
		n.assigned <- string(buf[:nr])
	}
}

func (n *fakeNode) complete(taskID string) error {
	_, err := n.conn.Write([]byte(fmt.Sprintf("TASK_DONE %s\n", taskID)))
	return err
}

func (n *fakeNode) disconnect() {
	n.conn.Close()
	n.ln.Close()
}

func submitTask(t *testing.T, managerAddr, line string) {
	t.Helper()
	conn, err := net.Dial("tcp", managerAddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(line))
	require.NoError(t, err)
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestSingleNodeSingleTask covers scenario S1: one node, one task,
// round trip to COMPLETED.
func TestSingleNodeSingleTask(t *testing.T) {
	h := newHarness(t)
	node := dialFakeNode(t, h.managerAddr(), "n1", 256)
	defer node.disconnect()

	submitTask(t, h.managerAddr(), "t1:echo hi:64:\n")

	var taskID string
	select {
	case taskID = <-node.assigned:
	case <-time.After(2 * time.Second):
		t.Fatal("node never received an assignment")
	}
	require.Equal(t, "t1", taskID)

	require.NoError(t, node.complete(taskID))
	waitFor(t, time.Second, func() bool {
		status, ok := h.store.TaskStatus("t1")
		return ok && status == "COMPLETED"
	})
}

// TestNodeDisconnectRequeues covers scenario S3: a node that
// disconnects mid-task has its task requeued and eventually completed
// by a second, cooperating node.
func TestNodeDisconnectRequeues(t *testing.T) {
	h := newHarness(t)
	crashy := dialFakeNode(t, h.managerAddr(), "crashy", 256)

	submitTask(t, h.managerAddr(), "t1:x:64:\n")

	select {
	case <-crashy.assigned:
	case <-time.After(2 * time.Second):
		t.Fatal("crashy never received the task")
	}
	crashy.disconnect()

	waitFor(t, time.Second, func() bool {
		status, ok := h.store.TaskStatus("t1")
		return ok && status == "QUEUED"
	})

	survivor := dialFakeNode(t, h.managerAddr(), "survivor", 256)
	defer survivor.disconnect()

	var taskID string
	select {
	case taskID = <-survivor.assigned:
	case <-time.After(2 * time.Second):
		t.Fatal("survivor never received the requeued task")
	}
	require.NoError(t, survivor.complete(taskID))

	waitFor(t, time.Second, func() bool {
		status, ok := h.store.TaskStatus("t1")
		return ok && status == "COMPLETED"
	})
}

// TestDuplicateTaskDoneIsNoop covers scenario S4.
func TestDuplicateTaskDoneIsNoop(t *testing.T) {
	h := newHarness(t)
	node := dialFakeNode(t, h.managerAddr(), "n1", 256)
	defer node.disconnect()

	submitTask(t, h.managerAddr(), "t1:x:64:\n")
	<-node.assigned

	require.NoError(t, node.complete("t1"))
	waitFor(t, time.Second, func() bool {
		status, ok := h.store.TaskStatus("t1")
		return ok && status == "COMPLETED"
	})

	require.NoError(t, node.complete("t1"))
	time.Sleep(50 * time.Millisecond)

	mem, ok := h.store.NodeAvailableMemory("n1")
	require.True(t, ok)
	require.Equal(t, 256, mem, "a duplicate TASK_DONE must not credit memory twice")
}

// TestResubmitCompletedTaskIgnored covers scenario S5.
func TestResubmitCompletedTaskIgnored(t *testing.T) {
	h := newHarness(t)
	node := dialFakeNode(t, h.managerAddr(), "n1", 256)
	defer node.disconnect()

	submitTask(t, h.managerAddr(), "t1:x:64:\n")
	taskID := <-node.assigned
	require.NoError(t, node.complete(taskID))
	waitFor(t, time.Second, func() bool {
		status, ok := h.store.TaskStatus("t1")
		return ok && status == "COMPLETED"
	})

	submitTask(t, h.managerAddr(), "t1:x:64:\n")
	time.Sleep(50 * time.Millisecond)
	status, _ := h.store.TaskStatus("t1")
	require.Equal(t, "COMPLETED", string(status))
}

// TestMalformedClientLineSkipped covers the "malformed messages on
// ingest are skipped, burst continues" error-handling rule.
func TestMalformedClientLineSkipped(t *testing.T) {
	h := newHarness(t)
	submitTask(t, h.managerAddr(), "bad-memory:x:not-a-number:\nt2:y:64:\n")

	waitFor(t, time.Second, func() bool {
		_, ok := h.store.TaskStatus("t2")
		return ok
	})
	_, ok := h.store.TaskStatus("bad-memory")
	require.False(t, ok, "a line with a malformed memory_mb must be skipped entirely")
}

// TestStatusPublisherSnapshot exercises the Status Publisher's wire
// format end to end: a raw TCP client reads NODES/TASKS sections off
// the status port the way the Dashboard would.
func TestStatusPublisherSnapshot(t *testing.T) {
	h := newHarness(t)
	node := dialFakeNode(t, h.managerAddr(), "n1", 256)
	defer node.disconnect()
	submitTask(t, h.managerAddr(), "t1:x:64:\n")
	waitFor(t, time.Second, func() bool {
		status, ok := h.store.TaskStatus("t1")
		return ok && status == "ASSIGNED"
	})

	pub, err := status.New("127.0.0.1:0", h.store)
	require.NoError(t, err)
	go pub.Serve()
	defer pub.Stop()

	conn, err := net.Dial("tcp", pub.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var lines []string
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
		if err != nil {
			break
		}
	}

	require.Contains(t, lines, "NODES")
	require.Contains(t, lines, "TASKS")
	require.Contains(t, lines, "n1,127.0.0.1,"+strconv.Itoa(node.ln.Addr().(*net.TCPAddr).Port)+",192,UP")
}
