// Package store implements the Manager's State Store: the node table,
// the task table, and the FIFO ready queue, under the two-lock
// discipline fixed by the spec (TASK lock acquired before NODE lock
// whenever both are needed).
package store

import (
	"sort"
	"sync"

	"github.com/jobmesh/dispatchd/internal/metrics"
	"github.com/jobmesh/dispatchd/internal/types"
)

// Store holds the Manager's entire in-memory state. Zero value is not
// usable; construct with New.
type Store struct {
	tasksMu    sync.RWMutex
	tasks      map[string]*types.Task
	readyQueue []string

	nodesMu sync.RWMutex
	nodes   map[string]*types.Node
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks: make(map[string]*types.Task),
		nodes: make(map[string]*types.Node),
	}
}

// RegisterNode inserts node into the Node table, replacing any prior
// record with the same ID. If a record is replaced, every task still
// ASSIGNED to the prior incarnation is requeued (spec §4.3, §7). The
// prior node record is returned so the caller can tear down its session
// socket; nil if this is a first-time registration.
func (s *Store) RegisterNode(node *types.Node) (previous *types.Node) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	s.nodesMu.Lock()
	previous = s.nodes[node.ID]
	s.nodes[node.ID] = node
	s.nodesMu.Unlock()

	if previous != nil {
		requeued := s.requeueAssignedToLocked(previous.ID)
		if requeued > 0 {
			metrics.TasksRequeuedTotal.WithLabelValues("re_register").Add(float64(requeued))
		}
	}
	return previous
}

// EvictNode removes node from the Node table and requeues its
// non-completed tasks, but only if node is still the record currently
// registered under its ID — a stale eviction (e.g. a superseded
// session's read loop unwinding after RegisterNode already replaced it)
// is a no-op. Returns true if an eviction actually happened.
func (s *Store) EvictNode(node *types.Node, cause string) bool {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	s.nodesMu.Lock()
	cur, ok := s.nodes[node.ID]
	if !ok || cur != node {
		s.nodesMu.Unlock()
		return false
	}
	delete(s.nodes, node.ID)
	s.nodesMu.Unlock()

	requeued := s.requeueAssignedToLocked(node.ID)
	metrics.NodesEvictedTotal.WithLabelValues(cause).Inc()
	if requeued > 0 {
		metrics.TasksRequeuedTotal.WithLabelValues(cause).Add(float64(requeued))
	}
	return true
}

// requeueAssignedToLocked resets every non-completed task assigned to
// nodeID back to QUEUED and appends it to the ready queue if it isn't
// already a member. Caller must hold tasksMu.
func (s *Store) requeueAssignedToLocked(nodeID string) int {
	n := 0
	for _, t := range s.tasks {
		if t.AssignedNode != nodeID || t.Status == types.TaskCompleted {
			continue
		}
		t.Status = types.TaskQueued
		t.AssignedNode = ""
		if !t.Queued() {
			s.readyQueue = append(s.readyQueue, t.ID)
			t.SetQueued(true)
		}
		n++
	}
	return n
}

// SubmitTask upserts a task descriptor as QUEUED and enqueues it,
// except when the task already exists and is COMPLETED, in which case
// the resubmission is ignored (idempotent). Returns false when ignored.
func (s *Store) SubmitTask(id, workload string, memoryMB int, deps []string) bool {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	t, exists := s.tasks[id]
	if exists && t.Status == types.TaskCompleted {
		return false
	}
	if !exists {
		t = &types.Task{ID: id}
		s.tasks[id] = t
	}
	t.Status = types.TaskQueued
	t.AssignedNode = ""
	t.MemoryMB = memoryMB
	t.Workload = workload
	t.Deps = deps
	if !t.Queued() {
		s.readyQueue = append(s.readyQueue, id)
		t.SetQueued(true)
	}
	return true
}

// CompleteTask marks a task COMPLETED. It is idempotent: a task already
// COMPLETED, or unknown, leaves state untouched and returns false.
// Memory is credited back to nodeID only if the task's recorded
// assignment still matches the reporting node — a stale report from an
// already-superseded assignment marks completion without crediting
// anyone (spec §4.3, §8 P3).
func (s *Store) CompleteTask(nodeID, taskID string) bool {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status == types.TaskCompleted {
		return false
	}

	creditMB := 0
	credit := t.Status == types.TaskAssigned && t.AssignedNode == nodeID
	if credit {
		creditMB = t.MemoryMB
	}

	// AssignedNode is left untouched: it is retained as a historical
	// record once a task reaches COMPLETED (spec §3).
	t.Status = types.TaskCompleted
	t.SetQueued(false)

	if credit {
		s.nodesMu.Lock()
		if n := s.nodes[nodeID]; n != nil {
			n.AvailableMemMB += creditMB
		}
		s.nodesMu.Unlock()
	}
	metrics.TasksCompletedTotal.Inc()
	return true
}

// DispatchFunc sends taskID to node over a fresh one-shot connection. It
// returns an error if the connection or send fails.
type DispatchFunc func(node *types.Node, taskID string) error

// DrainReadyQueue performs one Scheduler tick: it holds the TASK lock for
// the duration (spec §5), repeatedly dispatching the head of the ready
// queue until the queue is empty or the head blocks (insufficient
// memory on every node, or every feasible node's dispatch failed).
func (s *Store) DrainReadyQueue(dial DispatchFunc) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	for len(s.readyQueue) > 0 {
		taskID := s.readyQueue[0]
		task, ok := s.tasks[taskID]
		if !ok {
			s.popHeadLocked()
			continue
		}
		if task.Status == types.TaskCompleted {
			s.popHeadLocked()
			task.SetQueued(false)
			continue
		}

		tried := make(map[string]bool)
		dispatched := false
		for {
			s.nodesMu.Lock()
			node := s.selectNodeLocked(task.MemoryMB, tried)
			s.nodesMu.Unlock()
			if node == nil {
				break
			}

			if err := dial(node, taskID); err != nil {
				tried[node.ID] = true
				metrics.DispatchFailuresTotal.Inc()
				continue
			}

			s.nodesMu.Lock()
			if n := s.nodes[node.ID]; n != nil {
				n.AvailableMemMB -= task.MemoryMB
			}
			s.nodesMu.Unlock()

			task.Status = types.TaskAssigned
			task.AssignedNode = node.ID
			s.popHeadLocked()
			task.SetQueued(false)
			metrics.TasksDispatchedTotal.Inc()
			dispatched = true
			break
		}

		if !dispatched {
			return // head-of-line block; resume next tick
		}
	}
}

// popHeadLocked removes the front of the ready queue. Caller must hold
// tasksMu.
func (s *Store) popHeadLocked() {
	s.readyQueue = s.readyQueue[1:]
}

// selectNodeLocked returns the first node, in lexicographic ID order,
// with enough available memory for requiredMB whose ID is not in
// excluded. Caller must hold nodesMu.
func (s *Store) selectNodeLocked(requiredMB int, excluded map[string]bool) *types.Node {
	for _, id := range s.nodeIDsLocked() {
		if excluded[id] {
			continue
		}
		n := s.nodes[id]
		if n.AvailableMemMB >= requiredMB {
			return n
		}
	}
	return nil
}

// nodeIDsLocked returns node IDs in lexicographic order. Caller must
// hold nodesMu (for reading).
func (s *Store) nodeIDsLocked() []string {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListNodes returns every registered node in lexicographic ID order.
// The returned pointers alias live store state; callers outside this
// package may read ID/IP/ListenPort (immutable post-registration) and
// must not mutate them. Used by the Health Monitor to probe and, on
// probe failure, to evict by passing the same pointer back to EvictNode.
func (s *Store) ListNodes() []*types.Node {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	out := make([]*types.Node, 0, len(s.nodes))
	for _, id := range s.nodeIDsLocked() {
		out = append(out, s.nodes[id])
	}
	return out
}

// NodeCount reports how many nodes are currently registered.
func (s *Store) NodeCount() int {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	return len(s.nodes)
}

// Snapshot returns a connection-free, lock-free copy of both tables for
// the Status Publisher (and tests). Lock order matches every other
// mutator: TASK before NODE.
func (s *Store) Snapshot() ([]types.NodeSnapshot, []types.TaskSnapshot) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	nodes := make([]types.NodeSnapshot, 0, len(s.nodes))
	for _, id := range s.nodeIDsLocked() {
		n := s.nodes[id]
		nodes = append(nodes, types.NodeSnapshot{
			ID:             n.ID,
			IP:             n.IP.String(),
			ListenPort:     n.ListenPort,
			AvailableMemMB: n.AvailableMemMB,
			Health:         types.NodeUP,
		})
	}

	taskIDs := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	tasks := make([]types.TaskSnapshot, 0, len(taskIDs))
	for _, id := range taskIDs {
		t := s.tasks[id]
		tasks = append(tasks, types.TaskSnapshot{
			ID:           t.ID,
			Status:       t.Status,
			AssignedNode: t.AssignedNode,
			MemoryMB:     t.MemoryMB,
		})
	}
	return nodes, tasks
}

// TaskStatus returns a task's current status, for tests and diagnostics.
func (s *Store) TaskStatus(id string) (types.TaskStatus, bool) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return t.Status, true
}

// NodeAvailableMemory returns a node's current available memory, for
// tests and diagnostics.
func (s *Store) NodeAvailableMemory(id string) (int, bool) {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return 0, false
	}
	return n.AvailableMemMB, true
}
