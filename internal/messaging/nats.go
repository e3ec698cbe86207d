// Package messaging provides a NATS client wrapper for the bot's pub/sub
// traffic. It handles connection lifecycle and subject-based subscriptions,
// plus convenience methods for the event, action and admin channels.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects used by the bot.
const (
	SubjectEvents  = "guardbot.events"       // chat client -> bot
	SubjectActions = "guardbot.actions"      // bot -> chat client
	SubjectReload  = "guardbot.admin.reload" // operator -> bot
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	Queue         string        // queue group for event consumers; empty for none
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "guardbot",
		Queue:         "guardbot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// QueueSubscribe is Subscribe within a queue group, so that several bot
// replicas share one stream of events.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	if queue == "" {
		return c.Subscribe(subject, handler)
	}
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
}

// SubscribeEvents delivers inbound chat events to handler.
func (c *NATSClient) SubscribeEvents(queue string, handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectEvents, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishEvent publishes an inbound chat event. Used by the chat client and
// by tests.
func (c *NATSClient) PublishEvent(data []byte) error {
	return c.Publish(SubjectEvents, data)
}

// PublishAction publishes a directive for the chat client.
func (c *NATSClient) PublishAction(data []byte) error {
	return c.Publish(SubjectActions, data)
}

// SubscribeActions delivers directives to handler.
func (c *NATSClient) SubscribeActions(handler func(data []byte)) error {
	return c.Subscribe(SubjectActions, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishReload asks every running bot to reload its keyword document.
func (c *NATSClient) PublishReload(data []byte) error {
	return c.Publish(SubjectReload, data)
}

// SubscribeReload delivers reload requests to handler. Every replica
// receives every request.
func (c *NATSClient) SubscribeReload(handler func(data []byte)) error {
	return c.Subscribe(SubjectReload, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush(timeout time.Duration) error {
	if err := c.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Unsubscribe removes the subscription registered for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	return c.unsubscribe(subject)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", zap.Error(err))
	}
	c.logger.Info("client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
