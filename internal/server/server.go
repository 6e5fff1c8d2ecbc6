// Package server exposes a sketch store over RESP, the Redis wire protocol,
// so redis-cli and ordinary Redis client libraries can add items and read
// estimates.
//
// Commands
// ========
//
//	PING
//	INFO
//	DBSIZE
//	DEL key [key ...]
//	MEMORY USAGE key
//	SAVE | BGSAVE
//	HLL.ADD key [item ...]            (alias PFADD)
//	HLL.COUNT key                     (alias PFCOUNT)
//	HLL.ESTIMATE key [numStdDev]
//	HLL.INFO key
//	HLL.CONVERT key HLL_4|HLL_6|HLL_8
//	HLL.DUMP key
//	HLL.RESTORE key image [REPLACE]
//
// Items arrive as bulk strings and are hashed as strings. Unions are not
// offered, so HLL.COUNT takes exactly one key.
//
// Persistence
// ===========
//
// The server never writes files itself. It calls Config.Snapshot, which the
// caller wires to store.SaveFile: every SaveInterval if anything changed,
// on SAVE or BGSAVE, and once more after the last connection has drained
// at shutdown.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hll.lopezb.com/internal/pds/hyperloglog"
	"hll.lopezb.com/internal/store"
)

const (
	defaultMaxConnections  = 100
	defaultShutdownTimeout = 5 * time.Second

	rejectionTimeout = 500 * time.Millisecond
	errMaxClients    = "-ERR max number of clients reached\r\n"
)

var errSaveInProgress = errors.New("snapshot already in progress")

// Config controls a Server. Zero values pick the defaults noted per field.
type Config struct {
	// MaxConnections caps concurrent clients (default 100). Extra clients
	// get an error reply and are disconnected.
	MaxConnections int

	// IdleTimeout disconnects clients that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds how long Serve waits for in-flight commands
	// after its context is cancelled (default 5s).
	ShutdownTimeout time.Duration

	// SaveInterval is the period of background snapshots. Zero disables
	// them; SAVE and the final snapshot still run.
	SaveInterval time.Duration

	// Snapshot persists the store. Nil runs the server in memory only.
	Snapshot func() error

	// New sketches use these. Zero LgK means hyperloglog.DefaultLgK.
	LgK        int
	TargetType hyperloglog.TargetType

	// NumStdDev is the HLL.ESTIMATE default (default 2).
	NumStdDev int

	// Compact stores compact images instead of updatable ones.
	Compact bool
}

type handler func(w io.Writer, args []string)

// Server serves one store. Create it with New.
type Server struct {
	cfg    Config
	logger *slog.Logger
	store  *store.Store

	handlers map[string]handler
	metrics  *metrics

	connLimiter chan struct{}
	wg          sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closing atomic.Bool

	dirty   atomic.Bool
	saving  atomic.Bool
	bgSaves sync.WaitGroup
}

// New creates a server for st. It does not listen until Serve is called.
func New(cfg Config, st *store.Store, logger *slog.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.LgK == 0 {
		cfg.LgK = hyperloglog.DefaultLgK
	}
	if cfg.NumStdDev == 0 {
		cfg.NumStdDev = 2
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		metrics:     newMetrics(),
		connLimiter: make(chan struct{}, cfg.MaxConnections),
		conns:       make(map[net.Conn]struct{}),
	}
	s.handlers = s.commands()
	return s
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed,
// then drains in-flight commands and takes a final snapshot if one is
// configured and the store changed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	//
	// DESIGN
	// ------
	//
	// Connection limiting uses connLimiter as a semaphore. A non-blocking
	// send is a try-acquire; when it fails the client gets one error line
	// under a short write deadline and is dropped, so a client that never
	// reads cannot stall the accept loop.
	//
	// Shutdown closes the listener, then sets an immediate read deadline on
	// every open connection. A handler busy with a command finishes it and
	// writes its reply; the next read fails and the handler returns. Serve
	// waits for all handlers, up to ShutdownTimeout, before the final
	// snapshot, so no acknowledged update is left out of it.
	//
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	addr := ln.Addr().String()

	saverDone := make(chan struct{})
	go s.saveLoop(ctx, saverDone)

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server", "address", addr)
		s.closing.Store(true)
		_ = ln.Close()
		s.interruptConns()

		wgDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(wgDone)
		}()
		select {
		case <-wgDone:
			shutdownErr <- nil
		case <-time.After(s.cfg.ShutdownTimeout):
			shutdownErr <- context.DeadlineExceeded
		}
	}()

	s.logger.Info("server starting", "address", addr, "max_connections", s.cfg.MaxConnections)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("failed to accept connection", "error", err, "address", addr)
			continue
		}

		select {
		case s.connLimiter <- struct{}{}:
			s.wg.Add(1)
			go s.handleConnection(conn)
		default:
			s.logger.Warn("rejecting connection, limit reached", "remote_addr", conn.RemoteAddr().String())
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))
			_, _ = io.WriteString(conn, errMaxClients)
			_ = conn.Close()
		}
	}

	cancel()
	err := <-shutdownErr
	<-saverDone
	s.bgSaves.Wait()
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("shutdown timed out with clients still connected", "address", addr)
	}

	if s.cfg.Snapshot != nil && s.dirty.Load() {
		if serr := s.save(); serr != nil {
			s.logger.Error("final snapshot failed", "error", serr)
			return serr
		}
	}
	s.logger.Info("server stopped", "address", addr)
	return nil
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) interruptConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	now := time.Now()
	for conn := range s.conns {
		_ = conn.SetReadDeadline(now)
	}
}

// handleConnection runs the request/reply loop for one client.
func (s *Server) handleConnection(conn net.Conn) {
	//
	// DESIGN
	// ------
	//
	// Replies go through a bufio.Writer. After each command the writer is
	// flushed only if the parser has nothing else buffered, so a pipelined
	// batch of commands is answered with one write.
	//
	defer func() { <-s.connLimiter }()
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	s.trackConn(conn, true)
	defer s.trackConn(conn, false)
	if s.closing.Load() {
		return
	}

	s.metrics.connections.Add(1)
	remote := conn.RemoteAddr().String()
	s.logger.Debug("new connection", "remote_addr", remote)

	p := newParser(conn)
	w := bufio.NewWriterSize(conn, 4096)
	defer func() { _ = w.Flush() }()

	for {
		if s.cfg.IdleTimeout > 0 && !s.closing.Load() {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				s.logger.Error("failed to set read deadline", "error", err, "remote_addr", remote)
				return
			}
		}

		parts, err := p.next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Debug("client disconnected", "remote_addr", remote)
			case s.closing.Load():
				s.logger.Debug("connection closed for shutdown", "remote_addr", remote)
			default:
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					s.logger.Info("idle client disconnected", "remote_addr", remote)
				} else {
					s.logger.Warn("protocol error", "error", err, "remote_addr", remote)
					_ = writeError(w, err.Error())
				}
			}
			return
		}
		if len(parts) == 0 {
			continue
		}

		s.dispatch(w, parts)

		if p.buffered() == 0 {
			if err := w.Flush(); err != nil {
				s.logger.Warn("failed to flush reply", "error", err, "remote_addr", remote)
				return
			}
		}
	}
}

func (s *Server) dispatch(w io.Writer, parts []string) {
	s.metrics.commands.Add(1)
	name := strings.ToUpper(parts[0])
	h, ok := s.handlers[name]
	if !ok {
		s.metrics.commandsByName.With(prometheus.Labels{"command": "unknown"}).Inc()
		_ = writeError(w, "ERR unknown command '"+parts[0]+"'")
		return
	}
	s.metrics.commandsByName.With(prometheus.Labels{"command": name}).Inc()
	h(w, parts[1:])
}

func (s *Server) saveLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if s.cfg.Snapshot == nil || s.cfg.SaveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.dirty.Load() {
				continue
			}
			if err := s.save(); err != nil && !errors.Is(err, errSaveInProgress) {
				s.logger.Error("background snapshot failed", "error", err)
			}
		}
	}
}

// save runs one snapshot. The dirty flag is cleared first, so updates that
// land while the snapshot is written mark the store dirty again.
func (s *Server) save() error {
	if s.cfg.Snapshot == nil {
		return errors.New("persistence is disabled")
	}
	if !s.saving.CompareAndSwap(false, true) {
		return errSaveInProgress
	}
	defer s.saving.Store(false)

	s.dirty.Store(false)
	start := time.Now()
	if err := s.cfg.Snapshot(); err != nil {
		s.dirty.Store(true)
		s.metrics.snapshotErrors.Add(1)
		return err
	}
	elapsed := time.Since(start)
	s.metrics.snapshots.Add(1)
	s.metrics.snapshotSeconds.Observe(elapsed.Seconds())
	s.logger.Info("snapshot saved", "keys", s.store.Len(), "duration", elapsed)
	return nil
}
