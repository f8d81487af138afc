// Package memory keeps crawl job completion events in process. The serve
// command uses it when no broker is configured, and tests use it to inspect
// what a worker announced.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultRetain bounds how many messages a Publisher keeps.
const DefaultRetain = 1000

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records completion events, keeping only the most recent ones so
// a long-running server does not grow without bound.
type Publisher struct {
	logger *zap.Logger
	retain int

	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
	err      error
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithRetain caps the number of retained messages. Non-positive values keep
// the default.
func WithRetain(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.retain = n
		}
	}
}

// New returns a memory Publisher. A nil logger discards publish logs.
func New(logger *zap.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{logger: logger, retain: DefaultRetain}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailWith makes subsequent publishes return err. Passing nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns its sequence-based ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.seq++
	msg := PublishedMessage{ID: fmt.Sprintf("memory-%d", p.seq), Topic: topic, Payload: payload}
	p.messages = append(p.messages, msg)
	if over := len(p.messages) - p.retain; over > 0 {
		p.messages = append(p.messages[:0:0], p.messages[over:]...)
	}
	p.logger.Debug("completion event recorded",
		zap.String("topic", topic),
		zap.String("message_id", msg.ID),
		zap.Any("payload", payload),
	)
	return msg.ID, nil
}

// Messages returns a copy of the retained messages, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
