// Package scheduler implements the cooperative FIFO dispatch loop
// described in spec §4.4: on a fixed cadence it drains as much of the
// ready queue as it can, matching the head task to the first node with
// enough free memory and dispatching over a one-shot TCP connection.
package scheduler

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/metrics"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
)

// Scheduler periodically drains the Store's ready queue.
type Scheduler struct {
	store       *store.Store
	interval    time.Duration
	dialTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler. interval is the tick cadence (~200ms per
// spec §4.4); dialTimeout bounds each dispatch connection attempt.
func New(st *store.Store, interval, dialTimeout time.Duration) *Scheduler {
	return &Scheduler{
		store:       st,
		interval:    interval,
		dialTimeout: dialTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the scheduler loop in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) tick() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)
	s.store.DrainReadyQueue(s.dispatch)
}

// dispatch opens a fresh connection to node's listen port and sends
// taskID as the raw payload (spec §6). It never mutates Store state;
// the caller (Store.DrainReadyQueue) commits the assignment on success.
func (s *Scheduler) dispatch(node *types.Node, taskID string) error {
	logger := log.WithNodeID(node.ID)

	addr := net.JoinHostPort(node.IP.String(), strconv.Itoa(node.ListenPort))
	conn, err := net.DialTimeout("tcp", addr, s.dialTimeout)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("dispatch connect failed")
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(s.dialTimeout))
	if _, err := conn.Write([]byte(taskID)); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("dispatch send failed")
		return fmt.Errorf("send to %s: %w", addr, err)
	}

	logger.Info().Str("task_id", taskID).Msg("dispatched task")
	return nil
}
