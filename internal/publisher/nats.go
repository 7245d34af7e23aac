package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes LED transitions as JSON on a NATS subject
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink connects to url.
func NewNATSSink(url, subject, name string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger.Info("nats connection established", zap.String("url", url))

	return &NATSSink{conn: conn, subject: subject, logger: logger}, nil
}

// PublishChange publishes c on "<subject>.<board>".
func (s *NATSSink) PublishChange(c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	subject := s.subject
	if c.BoardID != "" {
		subject += "." + c.BoardID
	}
	return s.conn.Publish(subject, payload)
}

// Close drains the connection, falling back to an immediate close.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn("failed to drain nats connection, closing", zap.Error(err))
		s.conn.Close()
	}
	return nil
}
