// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/ipdr/pkg/mq"
)

// MockClient is a mock implementation of mq.ClientInterface.
// It records calls and returns configured values.
type MockClient struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc func(ctx context.Context, body []byte) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	// Published holds the body of every Publish and PublishUnconfirmed call.
	Published [][]byte

	// ConsumeFunc is called when Consume is invoked. If nil, Consume returns
	// ConsumeChannel and ConsumeError.
	ConsumeFunc func() (<-chan amqp.Delivery, error)
	// ConsumeChannel is returned by Consume together with ConsumeError.
	ConsumeChannel <-chan amqp.Delivery
	// ConsumeError is returned by Consume.
	ConsumeError error
	// ConsumeCalls counts Consume invocations.
	ConsumeCalls int

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewMockClient creates a MockClient with an open, empty delivery channel.
func NewMockClient() *MockClient {
	return &MockClient{
		ConsumeChannel: make(chan amqp.Delivery),
	}
}

// Publish implements mq.Publisher.
func (m *MockClient) Publish(ctx context.Context, body []byte) error {
	m.mu.Lock()
	m.Published = append(m.Published, body)
	fn, err := m.PublishFunc, m.PublishError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, body)
	}
	return err
}

// PublishUnconfirmed implements mq.Publisher.
func (m *MockClient) PublishUnconfirmed(ctx context.Context, body []byte) error {
	return m.Publish(ctx, body)
}

// Consume implements mq.Consumer.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	m.ConsumeCalls++
	fn, ch, err := m.ConsumeFunc, m.ConsumeChannel, m.ConsumeError
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return ch, err
}

// ConsumeCount returns the number of Consume calls.
func (m *MockClient) ConsumeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConsumeCalls
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// PublishedCount returns the number of recorded publishes.
func (m *MockClient) PublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

var _ mq.ClientInterface = (*MockClient)(nil)
