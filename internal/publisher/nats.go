package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ptparser/internal/pt"
)

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc          conn
	logger      *zap.Logger
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(logger *zap.Logger, url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ptparser"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, logger, prefix, logSubjects, m), nil
}

func newPublisher(nc conn, logger *zap.Logger, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger, prefix: strings.Trim(prefix, ". "), logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type RouteMessage struct {
	RunID       string    `json:"runId"`
	PublishedAt time.Time `json:"publishedAt"`
	pt.Route
}

// Subject returns <prefix>.<mode>.<id> for a route.
func (p *NATSPublisher) Subject(r pt.Route) string {
	subject := fmt.Sprintf("%s.%s", subjectToken(r.Mode()), strconv.FormatUint(r.ID, 10))
	if p.prefix != "" {
		subject = p.prefix + "." + subject
	}
	return subject
}

func (p *NATSPublisher) PublishRoute(runID string, r pt.Route) error {
	subject := p.Subject(r)
	b, err := json.Marshal(RouteMessage{RunID: runID, PublishedAt: time.Now().UTC(), Route: r})
	if err != nil {
		return fmt.Errorf("marshal route %d: %w", r.ID, err)
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", zap.String("subject", subject), zap.Int("bytes", len(b)))
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishRoutes publishes every route and flushes the connection. A failed
// route is logged and skipped; the number published is returned together
// with the last error seen.
func (p *NATSPublisher) PublishRoutes(ctx context.Context, runID string, routes []pt.Route) (int, error) {
	var (
		sent    int
		lastErr error
	)
	for _, r := range routes {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := p.PublishRoute(runID, r); err != nil {
			p.logger.Warn("route publish failed", zap.Uint64("id", r.ID), zap.Error(err))
			lastErr = err
			continue
		}
		sent++
	}
	if err := p.nc.Flush(); err != nil {
		return sent, fmt.Errorf("nats flush: %w", err)
	}
	p.logger.Info("routes published",
		zap.String("run_id", runID),
		zap.Int("published", sent),
		zap.Int("failed", len(routes)-sent),
	)
	return sent, lastErr
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
