package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())
	ctx := context.Background()

	require.True(t, tc.Client.IsHealthy())

	received := make(chan string, 1)
	sub, err := tc.Client.Subscribe(ctx, "featuresync.edits", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)
	require.NotNil(t, sub)

	require.NoError(t, tc.Client.Publish(ctx, "featuresync.edits", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	require.NoError(t, sub.Unsubscribe())
	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_ConsumeStream(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	_, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "EDITS",
		Subjects: []string{"edits.>"},
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.PublishToStream(ctx, "edits.laadpalen", []byte("first")))

	received := make(chan string, 4)
	attempts := 0
	cc, err := tc.Client.ConsumeStream(ctx, "EDITS", "featuresync", "edits.>",
		func(_ context.Context, data []byte) error {
			attempts++
			if attempts == 1 {
				return assert.AnError
			}
			received <- string(data)
			return nil
		})
	require.NoError(t, err)
	defer cc.Stop()

	// nacked once, then redelivered
	select {
	case msg := <-received:
		assert.Equal(t, "first", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("stream message not redelivered")
	}
}
