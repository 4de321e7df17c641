package health

import (
	"context"
	"sync"
	"time"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/metrics"
	"github.com/jobmesh/dispatchd/internal/store"
	"github.com/jobmesh/dispatchd/internal/types"
)

// Monitor runs the periodic liveness sweep over every registered node
// (spec §4.5): on each tick it probes every node synchronously, collects
// the down-set, then evicts each down node (requeueing its in-flight
// tasks) after the sweep completes.
type Monitor struct {
	store   *store.Store
	checker Checker

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a Health Monitor. interval is the probe cadence
// (~10s per spec §4.5).
func NewMonitor(st *store.Store, checker Checker, interval time.Duration) *Monitor {
	return &Monitor{
		store:    st,
		checker:  checker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the monitor loop in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthProbeDuration)

	logger := log.WithComponent("health-monitor")
	nodes := m.store.ListNodes()

	var down []*types.Node
	for _, n := range nodes {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		healthy := m.checker.Check(ctx, n.IP, n.ListenPort)
		cancel()

		if !healthy {
			down = append(down, n)
		}
	}

	for _, n := range down {
		logger.Error().Str("node_id", n.ID).Msg("liveness probe failed, evicting node")
		m.store.EvictNode(n, "health_probe_failed")
	}

	if m.store.NodeCount() == 0 {
		logger.Error().Msg("no active node")
	}
}
