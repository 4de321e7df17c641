// Package health implements the liveness probe the Health Monitor runs
// against every registered node: a bare TCP connect with no payload,
// exactly per spec §4.5 ("success is defined as connect() returning
// without error").
package health

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Checker performs a single liveness check.
type Checker interface {
	Check(ctx context.Context, ip net.IP, port int) bool
}

// TCPChecker dials (ip, port) and considers the node healthy if the dial
// succeeds before ctx is done. The probe has no retry or hysteresis by
// design (spec §4.5, §9): one failed connect is a DOWN verdict.
type TCPChecker struct {
	Timeout time.Duration
}

// NewTCPChecker returns a checker bounding each dial to timeout.
func NewTCPChecker(timeout time.Duration) *TCPChecker {
	return &TCPChecker{Timeout: timeout}
}

func (c *TCPChecker) Check(ctx context.Context, ip net.IP, port int) bool {
	dialer := &net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
