// Package port implements rendezvous endpoints: loopback TCP listeners
// whose address is advertised so another process can find their owner.
package port

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/empirempi/empire/internal/config"
	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/internal/metrics"
	"github.com/empirempi/empire/pkg/types"
)

// Backoff bounds for retrying a failing Accept
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Port is a bound rendezvous endpoint with a background accept loop
type Port struct {
	name     string
	listener net.Listener
	logger   *logger.Logger
	accepted atomic.Uint64

	mu     sync.Mutex
	worker *worker
}

// worker pairs the one-shot cancel signal with the accept goroutine's
// completion, so neither can be consumed without the other.
type worker struct {
	cancel chan struct{}
	done   chan error
}

// Open binds an OS-assigned port on the configured loopback host and starts
// accepting connections in the background. A host that is not a loopback IP
// is rejected.
func Open(cfg config.PortConfig, log *logger.Logger) (*Port, error) {
	if log == nil {
		log = logger.Global()
	}

	if ip := net.ParseIP(cfg.Host); ip == nil || !ip.IsLoopback() {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("rendezvous port host must be a loopback IP, got %q", cfg.Host))
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, "0"))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeIO, "failed to bind rendezvous port", err)
	}

	name := listener.Addr().String()
	p := &Port{
		name:     name,
		listener: listener,
		logger:   log.With("component", "port", "port_name", name),
		worker: &worker{
			cancel: make(chan struct{}),
			done:   make(chan error, 1),
		},
	}

	go func(w *worker) {
		w.done <- p.acceptLoop(w.cancel)
	}(p.worker)

	metrics.PortOpened()
	p.logger.Debug("Port opened")

	return p, nil
}

// Name returns the host:port address of the port
func (p *Port) Name() string {
	return p.name
}

// Accepted returns the number of connections accepted so far
func (p *Port) Accepted() uint64 {
	return p.accepted.Load()
}

// acceptLoop accepts connections until cancel is closed. The connect
// handshake is not implemented, so accepted connections are dropped.
// Repeated Accept failures back off exponentially up to maxAcceptBackoff.
func (p *Port) acceptLoop(cancel <-chan struct{}) error {
	var backoff time.Duration
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-cancel:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			p.logger.Warn("Failed to accept connection", "error", err, "retry_in", backoff)

			select {
			case <-cancel:
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		p.accepted.Add(1)
		p.logger.Debug("Connection accepted", "remote_addr", conn.RemoteAddr().String())
		conn.Close()
	}
}

// Close stops the accept loop and waits for it to exit. Close is
// idempotent. An accept loop that exits abnormally is an internal error
// and panics.
func (p *Port) Close() error {
	p.mu.Lock()
	w := p.worker
	p.worker = nil
	p.mu.Unlock()

	if w == nil {
		return nil
	}

	close(w.cancel)
	closeErr := p.listener.Close()

	if err := <-w.done; err != nil {
		panic("port: accept loop for " + p.name + " did not exit cleanly: " + err.Error())
	}

	metrics.PortClosed()
	p.logger.Debug("Port closed", "accepted", p.Accepted())

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return types.WrapError(types.ErrCodeIO, "failed to close rendezvous port "+p.name, closeErr)
	}
	return nil
}
