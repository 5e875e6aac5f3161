// Package publisher announces new cache generations on NATS so that screens
// and other consumers can re-read the overlay without polling.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/metrics"
	"overlay.onebusaway.org/internal/refresh"
)

const DefaultSubjectPrefix = "overlay.generation"

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher implements refresh.Notifier.
type NATSPublisher struct {
	nc      conn
	prefix  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. Events are published on
// "<prefix>.<reason>", for example "overlay.generation.realtime".
func NewNATSPublisher(url, prefix string, m *metrics.Metrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats_publisher"))

	nc, err := nats.Connect(url,
		nats.Name("transit-overlay"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.LogError(logger, "nats disconnected", err)
				return
			}
			logging.LogOperation(logger, "nats_disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logging.LogOperation(logger, "nats_reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.LogOperation(logger, "nats_closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return newPublisher(nc, prefix, m, logger), nil
}

func newPublisher(nc conn, prefix string, m *metrics.Metrics, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, metrics: m, logger: logger}
}

// Notify publishes ev as JSON.
func (p *NATSPublisher) Notify(ctx context.Context, ev refresh.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		p.metrics.ObserveNotification(metrics.OutcomeFailure)
		return err
	}

	subject := p.prefix + "." + subjectToken(ev.Reason)
	if err := p.nc.Publish(subject, b); err != nil {
		p.metrics.ObserveNotification(metrics.OutcomeFailure)
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	p.metrics.ObserveNotification(metrics.OutcomeSuccess)
	p.logger.Debug("published generation event",
		slog.String("subject", subject),
		slog.Uint64("generation", ev.Generation))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		logging.LogError(p.logger, "Error draining NATS connection", err)
	}
	p.nc.Close()
}

// subjectToken makes s usable as one NATS subject token.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
