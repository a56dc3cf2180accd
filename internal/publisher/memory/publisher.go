// Package memory records menu notifications in-process for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Message is one recorded publish, encoded the way the Pub/Sub publisher
// would put it on the wire.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher keeps JSON-encoded payloads for inspection. A non-nil Err makes
// every Publish fail with it.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish encodes payload and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Notifications decodes the recorded messages as menu notifications.
func (p *Publisher) Notifications() ([]crawler.MenuNotification, error) {
	msgs := p.Messages()
	out := make([]crawler.MenuNotification, 0, len(msgs))
	for _, m := range msgs {
		var note crawler.MenuNotification
		if err := json.Unmarshal(m.Data, &note); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.ID, err)
		}
		out = append(out, note)
	}
	return out, nil
}
