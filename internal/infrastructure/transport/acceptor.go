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

// Registrar is the part of the connection service an acceptor drives.
type Registrar interface {
	Begin(ctx context.Context) domain.ConnectionID
	Abort(ctx context.Context, id domain.ConnectionID, err error)
	Register(ctx context.Context, conn *domain.Connection) error
	Disconnect(ctx context.Context, id domain.ConnectionID, reason domain.DisconnectReason) bool
}

type AcceptorConfig struct {
	// Backlog bounds connections accepted but not yet registered.
	Backlog          int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
	// TLS switches the acceptor to mutual TLS. Nil means plain TCP.
	TLS *tls.Config
}

// Acceptor accepts connections from one listener and runs a read loop for
// each of them.
type Acceptor struct {
	cfg       AcceptorConfig
	kind      domain.TransportKind
	listener  net.Listener
	registrar Registrar
	loop      *ReadLoop
	running   *atomic.Bool
	slots     chan struct{}
	conns     *sync.WaitGroup
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewAcceptor(
	cfg AcceptorConfig,
	listener net.Listener,
	registrar Registrar,
	loop *ReadLoop,
	running *atomic.Bool,
	conns *sync.WaitGroup,
	logger *zap.SugaredLogger,
) *Acceptor {
	if cfg.Backlog <= 0 {
		cfg.Backlog = 128
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	kind := domain.TransportPlain
	if cfg.TLS != nil {
		kind = domain.TransportTLS
	}
	return &Acceptor{
		cfg:       cfg,
		kind:      kind,
		listener:  listener,
		registrar: registrar,
		loop:      loop,
		running:   running,
		slots:     make(chan struct{}, cfg.Backlog),
		conns:     conns,
		logger:    logger.With("transport", kind.String()),
		now:       time.Now,
	}
}

func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve accepts until the running flag is cleared or the listener is closed.
func (a *Acceptor) Serve(ctx context.Context) {
	a.logger.Infow("accepting connections", "address", a.listener.Addr().String())

	for a.running.Load() {
		select {
		case a.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		raw, err := a.listener.Accept()
		if err != nil {
			<-a.slots
			if !a.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if isTimeout(err) {
				continue
			}

			a.logger.Errorw("accept failed", "error", err, "retry_in", a.cfg.RetryDelay)
			select {
			case <-time.After(a.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		a.conns.Add(1)
		go a.handle(ctx, raw)
	}
}

func (a *Acceptor) handle(ctx context.Context, raw net.Conn) {
	defer a.conns.Done()

	id := a.registrar.Begin(ctx)
	transport, err := a.upgrade(ctx, raw)
	<-a.slots
	if err != nil {
		_ = raw.Close()
		a.registrar.Abort(ctx, id, err)
		a.logger.Warnw("handshake failed",
			"connection_id", id,
			"remote_addr", raw.RemoteAddr().String(),
			"error", err,
		)
		return
	}

	conn := domain.NewConnection(id, transport, a.now())
	if err := a.registrar.Register(ctx, conn); err != nil {
		_ = transport.Close()
		return
	}
	if !a.running.Load() {
		a.registrar.Disconnect(context.WithoutCancel(ctx), id, domain.ReasonShutdown)
		return
	}

	if secure, ok := transport.(domain.SecureTransport); ok {
		a.logger.Debugw("client authenticated",
			"connection_id", id,
			"common_name", secure.PeerCommonName(),
		)
	}

	a.loop.Run(ctx, conn)
}

func (a *Acceptor) upgrade(ctx context.Context, raw net.Conn) (domain.Transport, error) {
	if a.cfg.TLS == nil {
		return domain.PlainTransport{Conn: raw}, nil
	}

	tlsConn := tls.Server(raw, a.cfg.TLS)
	hctx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(hctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return domain.SecureTransport{Conn: tlsConn}, nil
}
