package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// MockNATSClient is an in-memory stand-in for natsclient.Client core
// messaging. Subscribe returns a nil *nats.Subscription; use Unsubscribe on
// the mock to drop handlers.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]func(context.Context, []byte)
	closed        bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]func(context.Context, []byte)),
		closed:        false,
	}
}

// Publish records data and delivers it synchronously to the subject's handlers.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}

	c.messages[subject] = append(c.messages[subject], data)

	// Copy handlers to avoid holding lock during callbacks
	var handlers []func(context.Context, []byte)
	if h, ok := c.subscriptions[subject]; ok {
		handlers = make([]func(context.Context, []byte), len(h))
		copy(handlers, h)
	}
	c.mu.Unlock()

	// Call handlers outside the lock to prevent deadlock
	// Create per-message context with 30s timeout (matches real client)
	for _, handler := range handlers {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		handler(msgCtx, data)
		cancel()
	}

	return nil
}

// Subscribe registers handler on subject.
func (c *MockNATSClient) Subscribe(
	ctx context.Context,
	subject string,
	handler func(context.Context, []byte),
) (*nats.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	c.subscriptions[subject] = append(c.subscriptions[subject], handler)
	return nil, nil
}

// Unsubscribe drops every handler on subject.
func (c *MockNATSClient) Unsubscribe(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, subject)
}

// Subscribers returns the number of handlers on subject.
func (c *MockNATSClient) Subscribers(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions[subject])
}

// GetMessages returns all messages for a subject as [][]byte.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return a copy to prevent races on the returned slice
	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Clear clears all messages from a subject.
func (c *MockNATSClient) Clear(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[subject] = make([][]byte, 0)
}

// ClearAll clears all messages from all subjects.
func (c *MockNATSClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][][]byte)
}

// Close closes the mock client.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WaitForMessage is a test helper that waits for a message on a subject (with timeout).
func WaitForMessage(t *testing.T, client *MockNATSClient, subject string, timeout time.Duration) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for message on subject %s", subject)
			return nil
		case <-ticker.C:
			messages := client.GetMessages(subject)
			if len(messages) > 0 {
				return messages[len(messages)-1] // Return latest message
			}
		}
	}
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			got := client.GetMessageCount(subject)
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, got)
			return
		case <-ticker.C:
			if client.GetMessageCount(subject) >= count {
				return
			}
		}
	}
}

// AssertMessageReceived checks that a message was received on a subject.
func AssertMessageReceived(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()

	messages := client.GetMessages(subject)
	if len(messages) == 0 {
		t.Fatalf("expected message on subject %s, got none", subject)
	}
}

// AssertNoMessages checks that no messages were received on a subject.
func AssertNoMessages(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()

	messages := client.GetMessages(subject)
	if len(messages) > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, len(messages))
	}
}
