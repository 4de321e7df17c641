package manager

import (
	"sync"
	"time"

	"github.com/jobmesh/dispatchd/internal/metrics"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
)

// metricsCollector periodically republishes Store state into the
// Prometheus gauges (node count, available memory, task counts by
// status) so they reflect a live snapshot rather than only the
// incremental counters updated inline by Store mutators.
type metricsCollector struct {
	store    *store.Store
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newMetricsCollector(st *store.Store, interval time.Duration) *metricsCollector {
	return &metricsCollector{store: st, interval: interval, stopCh: make(chan struct{})}
}

func (c *metricsCollector) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *metricsCollector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *metricsCollector) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

func (c *metricsCollector) collect() {
	nodes, tasks := c.store.Snapshot()

	metrics.NodesTotal.Set(float64(len(nodes)))
	totalMem := 0
	for _, n := range nodes {
		totalMem += n.AvailableMemMB
	}
	metrics.NodesAvailableMemMB.Set(float64(totalMem))

	counts := map[types.TaskStatus]int{
		types.TaskQueued:    0,
		types.TaskAssigned:  0,
		types.TaskCompleted: 0,
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	for status, n := range counts {
		metrics.TasksByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
