package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"rudder/internal/event"
	"rudder/pkg/logging"
)

// NATSConfig configures the message-bus source.
type NATSConfig struct {
	// URL is the NATS server address.
	URL string

	// Subject is the JetStream subject carrying notifications.
	Subject string

	// Durable names the consumer so delivery resumes across restarts.
	Durable string

	// Queue spreads delivery across orchestrator replicas.
	Queue string

	// AckWait is how long the broker waits before redelivering an
	// unacknowledged notification.
	AckWait time.Duration
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "notifications.>"
	}
	if c.Durable == "" {
		c.Durable = "rudder"
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	return c
}

// NATSSource consumes notifications from a JetStream subject.
//
// Delivery is at-least-once: a notification is acked only after the
// dispatcher accepted it, so a crash between delivery and handoff causes a
// redelivery, which the machines absorb as a no-op. Unresolvable
// notifications are terminated at the broker since redelivering them can
// never succeed.
type NATSSource struct {
	cfg        NATSConfig
	normalizer *event.Normalizer

	mu      sync.Mutex
	conn    *nats.Conn
	sub     *nats.Subscription
	running bool
}

// NewNATSSource creates a message-bus source.
func NewNATSSource(cfg NATSConfig, normalizer *event.Normalizer) *NATSSource {
	return &NATSSource{cfg: cfg.withDefaults(), normalizer: normalizer}
}

// Name implements Source.
func (s *NATSSource) Name() string { return "nats" }

// Start implements Source.
func (s *NATSSource) Start(ctx context.Context, dispatcher Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("rudder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("NATSSource", "disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATSSource", "reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening jetstream context: %w", err)
	}

	handler := func(msg *nats.Msg) {
		s.handle(ctx, dispatcher, msg.Data, msgAcker{msg})
	}

	opts := []nats.SubOpt{
		nats.Durable(s.cfg.Durable),
		nats.ManualAck(),
		nats.AckWait(s.cfg.AckWait),
		nats.DeliverAll(),
	}

	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = js.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, handler, opts...)
	} else {
		sub, err = js.Subscribe(s.cfg.Subject, handler, opts...)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to %s: %w", s.cfg.Subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.running = true

	logging.Info("NATSSource", "consuming %s from %s", s.cfg.Subject, s.cfg.URL)
	return nil
}

// acker is the broker-side reply surface for one delivered notification.
type acker interface {
	Ack() error
	Nak() error
	Term() error
}

type msgAcker struct{ msg *nats.Msg }

func (a msgAcker) Ack() error  { return a.msg.Ack() }
func (a msgAcker) Nak() error  { return a.msg.Nak() }
func (a msgAcker) Term() error { return a.msg.Term() }

func (s *NATSSource) handle(ctx context.Context, dispatcher Dispatcher, data []byte, ack acker) {
	ev, err := s.normalizer.Normalize(ctx, data)
	if err != nil {
		var unresolvable *event.UnresolvableError
		if errors.As(err, &unresolvable) {
			// Redelivery cannot fix these; drop them at the broker.
			logging.Warn("NATSSource", "terminating notification: %v", err)
			if termErr := ack.Term(); termErr != nil {
				logging.Error("NATSSource", termErr, "terminating notification failed")
			}
			return
		}
		logging.Error("NATSSource", err, "normalizing notification failed")
		_ = ack.Nak()
		return
	}

	if err := dispatcher.Dispatch(ev); err != nil {
		// Leave it to the broker; it redelivers after AckWait or to
		// another replica.
		logging.Warn("NATSSource", "%s: dispatch refused, requesting redelivery: %v", ev.ResourceID, err)
		_ = ack.Nak()
		return
	}

	if err := ack.Ack(); err != nil {
		logging.Warn("NATSSource", "%s: ack failed, expect a redelivery: %v", ev.ResourceID, err)
	}
}

// Stop implements Source.
func (s *NATSSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			logging.Warn("NATSSource", "draining subscription: %v", err)
		}
		s.sub = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	logging.Info("NATSSource", "stopped")
	return nil
}
