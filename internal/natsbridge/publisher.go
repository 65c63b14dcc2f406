// Package natsbridge republishes downstream payloads onto a NATS subject so
// non-WebSocket consumers can follow the stream.
package natsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrInvalidSubject = errors.New("invalid nats subject")

type Config struct {
	URL           string
	Subject       string
	ClientName    string
	ReconnectWait time.Duration
	MaxReconnects int                   // -1 retries forever
	Registerer    prometheus.Registerer // optional, for the dropped counter
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	IsClosed() bool
	IsConnected() bool
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher is a registry sink that publishes every payload to one subject.
// Publish failures while the connection can still recover are counted and
// swallowed so the registry keeps the publisher.
type Publisher struct {
	nc      conn
	subject string
	logger  *slog.Logger
	dropped prometheus.Counter
	failing atomic.Bool
}

func newPublisher(nc conn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		nc:      nc,
		subject: subject,
		logger:  logger,
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradegateway",
			Subsystem: "nats",
			Name:      "publish_dropped_total",
			Help:      "Payloads not published to NATS while the connection was unavailable",
		}),
	}
}

// Connect dials NATS and returns a publisher for cfg.Subject.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ValidateSubject(cfg.Subject); err != nil {
		return nil, err
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "tradegateway"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats_disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("nats_connection_closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	logger.Info("nats_connected", "url", cfg.URL, "subject", cfg.Subject)

	p := newPublisher(nc, cfg.Subject, logger)
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(p.dropped); err != nil {
			nc.Close()
			return nil, fmt.Errorf("register nats metrics: %w", err)
		}
	}
	return p, nil
}

// Send publishes payload. While disconnected the client buffers; once the
// buffer is full payloads are dropped and counted. An error is returned only
// when the connection is closed for good.
func (p *Publisher) Send(payload []byte) error {
	err := p.nc.Publish(p.subject, payload)
	if err == nil {
		if p.failing.Swap(false) {
			p.logger.Info("nats_publish_recovered", "subject", p.subject)
		}
		return nil
	}

	if p.nc.IsClosed() {
		p.logger.Warn("nats_publish_failed", "subject", p.subject, "error", err.Error())
		return err
	}

	p.dropped.Inc()
	// log the first failure of an outage only
	if !p.failing.Swap(true) {
		p.logger.Warn("nats_publish_dropping", "subject", p.subject, "error", err.Error())
	}
	return nil
}

func (p *Publisher) Connected() bool {
	return p.nc.IsConnected()
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Debug("nats_flush_failed", "error", err.Error())
	}
	p.nc.Close()
}

// ValidateSubject accepts a publishable subject: dot-separated non-empty
// tokens without wildcards or whitespace.
func ValidateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if strings.ContainsAny(subject, " \t\r\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidSubject, subject)
	}
	for _, tok := range strings.Split(subject, ".") {
		switch tok {
		case "":
			return fmt.Errorf("%w: %q has an empty token", ErrInvalidSubject, subject)
		case "*", ">":
			return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidSubject, subject)
		}
	}
	return nil
}
