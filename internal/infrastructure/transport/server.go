package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
)

var ErrServerRunning = errors.New("transport: server already running")

// ConnectionManager registers accepted connections and tears them all down on
// shutdown.
type ConnectionManager interface {
	Registrar
	DisconnectAll(ctx context.Context, reason domain.DisconnectReason) int
}

type ServerConfig struct {
	PlainAddress     string
	TLSAddress       string
	AcceptBacklog    int
	AcceptRetryDelay time.Duration
	HandshakeTimeout time.Duration
	ShutdownTimeout  time.Duration
	// TLS enables the mutual TLS listener on TLSAddress.
	TLS *tls.Config
}

// Server runs the plain and TLS accept loops.
type Server struct {
	cfg     ServerConfig
	manager ConnectionManager
	loop    *ReadLoop
	logger  *zap.SugaredLogger

	running atomic.Bool
	cancel  context.CancelFunc

	plain *Acceptor
	tls   *Acceptor

	acceptLoops sync.WaitGroup
	conns       sync.WaitGroup
}

func NewServer(cfg ServerConfig, manager ConnectionManager, loop *ReadLoop, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		loop:    loop,
		logger:  logger,
	}
}

// Start opens the configured listeners and begins accepting.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)

	acfg := AcceptorConfig{
		Backlog:          s.cfg.AcceptBacklog,
		RetryDelay:       s.cfg.AcceptRetryDelay,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	if s.cfg.PlainAddress != "" {
		ln, err := net.Listen("tcp", s.cfg.PlainAddress)
		if err != nil {
			s.abortStart()
			return fmt.Errorf("listen plain %s: %w", s.cfg.PlainAddress, err)
		}
		s.plain = NewAcceptor(acfg, ln, s.manager, s.loop, &s.running, &s.conns, s.logger)
	}

	if s.cfg.TLS != nil {
		ln, err := net.Listen("tcp", s.cfg.TLSAddress)
		if err != nil {
			s.abortStart()
			return fmt.Errorf("listen tls %s: %w", s.cfg.TLSAddress, err)
		}
		tcfg := acfg
		tcfg.TLS = s.cfg.TLS
		s.tls = NewAcceptor(tcfg, ln, s.manager, s.loop, &s.running, &s.conns, s.logger)
	}

	for _, a := range s.acceptors() {
		s.acceptLoops.Add(1)
		go func(a *Acceptor) {
			defer s.acceptLoops.Done()
			a.Serve(ctx)
		}(a)
	}
	return nil
}

// PlainAddr returns the bound plain listener address, or nil.
func (s *Server) PlainAddr() net.Addr {
	if s.plain == nil {
		return nil
	}
	return s.plain.Addr()
}

// TLSAddr returns the bound TLS listener address, or nil.
func (s *Server) TLSAddr() net.Addr {
	if s.tls == nil {
		return nil
	}
	return s.tls.Addr()
}

func (s *Server) Running() bool {
	return s.running.Load()
}

// Shutdown stops accepting, disconnects every client and waits for their read
// loops, bounded by ctx and the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	for _, a := range s.acceptors() {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warnw("failed to close listener", "address", a.Addr().String(), "error", err)
		}
	}
	s.cancel()
	s.acceptLoops.Wait()

	closed := s.manager.DisconnectAll(ctx, domain.ReasonShutdown)
	s.logger.Infow("server stopping", "disconnected", closed)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}
}

func (s *Server) acceptors() []*Acceptor {
	var out []*Acceptor
	for _, a := range []*Acceptor{s.plain, s.tls} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) abortStart() {
	for _, a := range s.acceptors() {
		_ = a.listener.Close()
	}
	s.plain, s.tls = nil, nil
	s.cancel()
	s.running.Store(false)
}
