// Package netutil acquires the TCP port the server binds to.
//
// Two strategies are supported. Strict returns the requested port when it is
// free and fails otherwise. Scanning probes upward from the requested port
// and returns the first free one within a bounded number of attempts. Every
// deviation from the requested port is logged at WARN level.
//
// Probing closes the probe socket before returning, so a small window exists
// in which another process can take the port. Callers that need the port
// held should use [Resolver.Listen], which keeps the winning listener open.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/MrWong99/inferbridge/internal/config"
)

// ErrPortUnavailable is returned by the strict strategy when the requested
// port cannot be bound.
var ErrPortUnavailable = errors.New("netutil: port unavailable")

// ErrNoPortAvailable is returned by the scanning strategy when every probed
// port is in use.
var ErrNoPortAvailable = errors.New("netutil: no port available")

// maxPort is the highest valid TCP port.
const maxPort = 65535

// Resolver acquires a bind port on Host according to Strategy.
type Resolver struct {
	// Host is the interface to probe, e.g. "127.0.0.1".
	Host string

	// Strategy is strict or scanning. The zero value behaves as strict.
	Strategy config.PortStrategy

	// Attempts bounds the scanning strategy. Values below 1 mean 1.
	Attempts int

	// Logger receives deviation warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewResolver returns a Resolver configured from cfg.
func NewResolver(cfg config.ServerConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		Host:     cfg.Host,
		Strategy: cfg.PortStrategy,
		Attempts: cfg.PortScanAttempts,
		Logger:   logger,
	}
}

// Resolve returns a port that was free at the time of probing.
func (r *Resolver) Resolve(ctx context.Context, port int) (int, error) {
	ln, err := r.Listen(ctx, port)
	if err != nil {
		return 0, err
	}
	got := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("netutil: close probe on port %d: %w", got, err)
	}
	return got, nil
}

// Listen binds a TCP listener on the resolved port and returns it open.
func (r *Resolver) Listen(ctx context.Context, port int) (net.Listener, error) {
	if port < 1 || port > maxPort {
		return nil, fmt.Errorf("netutil: port %d is out of range [1, %d]", port, maxPort)
	}

	if r.Strategy != config.PortScanning {
		ln, err := r.bind(ctx, port)
		if err != nil {
			r.logger().Warn("requested port is unavailable",
				"host", r.Host,
				"port", port,
				"strategy", config.PortStrict,
				"err", err,
			)
			return nil, fmt.Errorf("%w: %s: %w", ErrPortUnavailable, r.addr(port), err)
		}
		return ln, nil
	}

	attempts := max(r.Attempts, 1)
	var lastErr error
	for i := range attempts {
		candidate := port + i
		if candidate > maxPort {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("netutil: resolve port: %w", err)
		}
		ln, err := r.bind(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if candidate != port {
			r.logger().Warn("requested port is in use, using next free port",
				"host", r.Host,
				"requested", port,
				"port", candidate,
				"strategy", config.PortScanning,
			)
		}
		return ln, nil
	}

	r.logger().Warn("no free port found",
		"host", r.Host,
		"from", port,
		"attempts", attempts,
		"err", lastErr,
	)
	return nil, fmt.Errorf("%w: %s..%d after %d attempts", ErrNoPortAvailable, r.addr(port), min(port+attempts-1, maxPort), attempts)
}

func (r *Resolver) bind(ctx context.Context, port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return lc.Listen(ctx, "tcp", r.addr(port))
}

func (r *Resolver) addr(port int) string {
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
