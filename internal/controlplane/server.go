package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 64
	maxRequestBytes    = 1 << 20
	connIdleTimeout    = 30 * time.Second
)

// Server is the Worker RPC protocol's newline-delimited JSON socket server,
// generalizing operator.Server's fixed-command Unix socket to the full §6
// operation list and an arbitrary net.Listener (Unix socket for a co-located
// control plane, TCP for a remote one).
type Server struct {
	dispatcher *Dispatcher
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer constructs a Server around a Dispatcher.
func NewServer(dispatcher *Dispatcher, log *zap.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServeUnix binds a Unix domain socket at socketPath (removing any
// stale socket file first, as the teacher's operator server does) and
// serves until ctx is cancelled.
func (s *Server) ListenAndServeUnix(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("controlplane: remove stale socket %q: %w", socketPath, err)
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("controlplane: listen %q: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("controlplane: chmod %q: %w", socketPath, err)
	}
	return s.serve(ctx, lis)
}

// ListenAndServeTCP binds addr over TCP and serves until ctx is cancelled.
func (s *Server) ListenAndServeTCP(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controlplane: listen %q: %w", addr, err)
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	defer lis.Close()
	s.log.Info("control plane listening", zap.String("addr", lis.Addr().String()))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("controlplane: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("controlplane: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn serves newline-delimited JSON requests on one connection until
// EOF, an oversized line, or a read error.
func (s *Server) handleConn(conn net.Conn) {
	reader := bufio.NewReaderSize(conn, maxRequestBytes)
	encoder := json.NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(connIdleTimeout))
		line, err := reader.ReadBytes('\n')
		if len(line) > maxRequestBytes {
			_ = encoder.Encode(Response{Success: false, Error: "request exceeds maximum size"})
			return
		}
		if len(line) > 0 {
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				_ = encoder.Encode(Response{Success: false, Error: "invalid JSON: " + err.Error()})
			} else {
				_ = encoder.Encode(s.dispatcher.Dispatch(req))
			}
		}
		if err != nil {
			return
		}
	}
}
