package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used by the notifier and forwarder.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
}

// Connect dials NATS with reconnect handlers that report through logger.
func Connect(cfg Config, logger *zap.SugaredLogger) (*nats.Conn, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.PingInterval(cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("disconnected from nats", "error", err)
				return
			}
			logger.Infow("disconnected from nats")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Infow("reconnected to nats", "url", conn.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Errorw("nats error", "subject", subject, "error", err)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infow("connected to nats", "url", conn.ConnectedUrl())
	return conn, nil
}

// Status reports nil when conn is connected. Used by the readiness check.
func Status(conn *nats.Conn) error {
	if conn == nil {
		return fmt.Errorf("nats not configured")
	}
	if !conn.IsConnected() {
		return fmt.Errorf("nats %s", conn.Status())
	}
	return nil
}
