// Package dashboard implements the Dashboard: a terminal client that
// polls the Manager's status port at 1 Hz and renders the Node/Task
// snapshot as a fixed-width, color-coded table (spec §6, grounded on
// original_source/src/manager/dashboard.cpp).
package dashboard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/rs/zerolog"
)

const pollInterval = time.Second

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// node and task are the parsed wire-format rows (spec §6); any line
// that fails to parse is skipped, matching the original.
type node struct {
	id, ip, health string
	port, memoryMB int
}

type task struct {
	id, status, assignedNode string
	memoryMB                 int
}

// Config controls which Manager the Dashboard polls.
type Config struct {
	ManagerIP  string
	StatusPort int
}

// Dashboard is one running poll loop.
type Dashboard struct {
	cfg Config
	out io.Writer
}

// New builds a Dashboard writing to stdout.
func New(cfg Config) *Dashboard {
	return &Dashboard{cfg: cfg, out: os.Stdout}
}

// Run polls at 1 Hz until ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	logger := log.WithComponent("dashboard")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	d.poll(logger)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.poll(logger)
		}
	}
}

// poll fetches one snapshot and renders it. A connect/read failure is
// logged and the Dashboard waits for the next tick to retry (spec §12).
func (d *Dashboard) poll(logger zerolog.Logger) {
	nodes, tasks, err := d.fetch()
	if err != nil {
		logger.Warn().Err(err).Msg("status fetch failed, retrying next tick")
		return
	}
	render(d.out, nodes, tasks)
}

// fetch opens a one-shot connection to the status port, reads until the
// Manager closes it, and parses the NODES/TASKS sections.
func (d *Dashboard) fetch() ([]node, []task, error) {
	addr := net.JoinHostPort(d.cfg.ManagerIP, strconv.Itoa(d.cfg.StatusPort))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	return parseSnapshot(bufio.NewReader(conn))
}

// parseSnapshot reads the §6 wire format. Any line that doesn't parse
// into the expected field count is skipped; it never aborts the scan.
func parseSnapshot(r *bufio.Reader) ([]node, []task, error) {
	var nodes []node
	var tasks []task
	section := ""

	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "NODES":
			section = "NODES"
		case "TASKS":
			section = "TASKS"
		case "":
		default:
			switch section {
			case "NODES":
				if n, ok := parseNode(trimmed); ok {
					nodes = append(nodes, n)
				}
			case "TASKS":
				if t, ok := parseTask(trimmed); ok {
					tasks = append(tasks, t)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nodes, tasks, nil
			}
			return nodes, tasks, err
		}
	}
}

func parseNode(line string) (node, bool) {
	f := strings.Split(line, ",")
	if len(f) != 5 {
		return node{}, false
	}
	port, err := strconv.Atoi(f[2])
	if err != nil {
		return node{}, false
	}
	mem, err := strconv.Atoi(f[3])
	if err != nil {
		return node{}, false
	}
	return node{id: f[0], ip: f[1], port: port, memoryMB: mem, health: f[4]}, true
}

func parseTask(line string) (task, bool) {
	f := strings.Split(line, ",")
	if len(f) != 4 {
		return task{}, false
	}
	mem, err := strconv.Atoi(f[3])
	if err != nil {
		return task{}, false
	}
	return task{id: f[0], status: f[1], assignedNode: f[2], memoryMB: mem}, true
}

// render clears the screen and draws fixed-width Node/Task tables,
// color-coding node health green (UP) or red (DOWN).
func render(w io.Writer, nodes []node, tasks []task) {
	fmt.Fprint(w, "\033[H\033[2J")

	fmt.Fprintln(w, "+------------------- Nodes -----------------------------+")
	fmt.Fprintln(w, "| ID     | IP         | Port | Mem(MB) | Health |")
	fmt.Fprintln(w, "+--------+------------+------+---------+--------+")
	for _, n := range nodes {
		color := colorRed
		if n.health == "UP" {
			color = colorGreen
		}
		fmt.Fprintf(w, "| %-7s| %-11s| %-5d| %-8d| %s%-6s%s |\n",
			n.id, n.ip, n.port, n.memoryMB, color, n.health, colorReset)
	}

	fmt.Fprintln(w, "+------------------- Tasks -------------------+")
	fmt.Fprintln(w, "| ID     | Status   | Node     | Mem(MB) |")
	fmt.Fprintln(w, "+--------+----------+----------+---------+")
	for _, t := range tasks {
		fmt.Fprintf(w, "| %-7s| %-9s| %-9s| %-8d|\n",
			t.id, t.status, t.assignedNode, t.memoryMB)
	}
	fmt.Fprintln(w, "+---------------------------------------------+")
}
