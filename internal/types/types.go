// Package types holds the data model shared by every component of the
// dispatcher: the Manager's node and task tables, and the wire-facing
// status enums the Dashboard renders.
package types

import (
	"net"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskAssigned  TaskStatus = "ASSIGNED"
	TaskCompleted TaskStatus = "COMPLETED"
)

// NodeHealth is the health column of the status wire format. A node
// present in the Node table is always reported UP, since a node that
// fails its liveness probe is removed rather than marked; DOWN is never
// produced by Store.Snapshot and is kept for wire-format completeness
// (see §6 of the spec).
type NodeHealth string

const (
	NodeUP   NodeHealth = "UP"
	NodeDown NodeHealth = "DOWN"
)

// DefaultMemoryMB is substituted for a task descriptor that omits
// memory_mb.
const DefaultMemoryMB = 128

// Node is a registered worker. IP is captured from the accepted socket's
// peer address, not from the REGISTER payload, per spec §3.
type Node struct {
	ID              string
	IP              net.IP
	ListenPort      int
	InitialMemoryMB int
	AvailableMemMB  int

	// conn is the persistent session socket that completion messages
	// arrive on; it is closed when the node re-registers. Store.Snapshot
	// returns NodeSnapshot values, which carry no connection.
	conn net.Conn
}

// Conn returns the node's persistent session connection.
func (n *Node) Conn() net.Conn { return n.conn }

// SetConn attaches the persistent session connection to the node record.
func (n *Node) SetConn(c net.Conn) { n.conn = c }

// Task is a unit of work identified by a caller-supplied ID.
type Task struct {
	ID           string
	Status       TaskStatus
	AssignedNode string
	MemoryMB     int
	Workload     string
	Deps         []string

	// queued tracks ready-queue membership so a task is never enqueued
	// twice (P4), independent of Status which can be reset by a racing
	// requeue before the queue entry is popped.
	queued bool
}

// Queued reports whether the task currently has an entry in the ready
// queue.
func (t *Task) Queued() bool { return t.queued }

// SetQueued updates ready-queue membership bookkeeping.
func (t *Task) SetQueued(v bool) { t.queued = v }

// NodeSnapshot and TaskSnapshot are the immutable, connection-free views
// the Status Publisher and tests read without holding the Store's locks
// past the copy.
type NodeSnapshot struct {
	ID             string
	IP             string
	ListenPort     int
	AvailableMemMB int
	Health         NodeHealth
}

type TaskSnapshot struct {
	ID           string
	Status       TaskStatus
	AssignedNode string
	MemoryMB     int
}
