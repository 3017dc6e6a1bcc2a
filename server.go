package atmxgo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
)

// Server accepts terminal connections and runs one Session per connection.
// All sessions share the one Service it was built with.
type Server struct {
	cfg  ServerConfig
	svc  Service
	node *snowflake.Node
	log  *zerolog.Logger

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	draining bool
	wg       sync.WaitGroup
	active   atomic.Int64
}

func NewServer(cfg ServerConfig, svc Service, node *snowflake.Node, log *zerolog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		svc:   svc,
		node:  node,
		log:   log,
		conns: make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the configured socket path, replacing a stale socket
// left by a previous run, and serves until ctx is done. The socket file is
// removed when the listener closes.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := removeStaleSocket(s.cfg.SocketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.log.Info().Str("socket", s.cfg.SocketPath).Msg("listening")
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then stops accepting, lets every
// in-flight command finish, closes idle sessions and waits for all of them.
// It returns nil after a graceful stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.drain()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				cancel()
				s.drain()
				return fmt.Errorf("accept: %w", err)
			}
			// Descriptor exhaustion and aborted handshakes clear up once
			// sessions finish.
			tempDelay = nextDelay(tempDelay)
			s.log.Err(err).Dur("retry_in", tempDelay).Msg("error accepting connection")
			select {
			case <-time.After(tempDelay):
			case <-ctx.Done():
			}
			continue
		}
		tempDelay = 0

		if !s.track(conn) {
			conn.Close()
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	sess := NewSession(s.node.Generate(), conn, s.svc, s.cfg, s.log)
	s.active.Add(1)
	defer s.active.Add(-1)

	sess.log.Info().Msg("terminal connected")
	if err := sess.Serve(ctx); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			sess.log.Info().Msg("session closed after idle timeout")
			return
		}
		sess.log.Warn().Err(err).Msg("session closed on transport error")
		return
	}
	sess.log.Info().Msg("session closed")
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// drain unblocks every session waiting for its next command. A session that
// is dispatching finishes and answers before its next read fails.
func (s *Server) drain() {
	s.mu.Lock()
	s.draining = true
	now := time.Now()
	for conn := range s.conns {
		conn.SetReadDeadline(now)
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info().Msg("all sessions closed")
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// removeStaleSocket deletes path if it is a socket. Anything else at path is
// left alone and reported.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
