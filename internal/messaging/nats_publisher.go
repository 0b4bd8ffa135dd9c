// Package messaging mirrors engine events onto NATS so other services can
// consume new postings and status changes.
package messaging

import (
	"time"

	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/events"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const SubjectPrefix = "jobs."

// Subject maps an event type onto its NATS subject: posting.new is
// published on jobs.posting.new, status on jobs.status.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

var _ events.Sink = (*Publisher)(nil)

func NewPublisher(url string, timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []nats.Option{
		nats.Name("jobfeed-engine"),
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Second),
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
		return nil, errors.Configuration("connecting to NATS", err)
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// Emit publishes without waiting for the server; a NATS outage never slows
// ingestion.
func (p *Publisher) Emit(typ string, data any) {
	subject := Subject(typ)
	msg := events.MakeEvent("", typ, 1, data)
	if err := p.conn.Publish(subject, []byte(msg)); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	p.logger.Debug("published event",
		zap.String("subject", subject),
		zap.Int("message.size", len(msg)))
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
