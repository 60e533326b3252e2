package natssource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/natsclient"
	"github.com/c360/featuresync/source"
	"github.com/c360/featuresync/testutil"
)

const subject = "featuresync.edits.laadpalen"

type recorder struct {
	mu     sync.Mutex
	events []feature.EditEvent
}

func (r *recorder) handle(e feature.EditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []feature.EditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feature.EditEvent(nil), r.events...)
}

func payload(t *testing.T, refs ...feature.Ref) []byte {
	t.Helper()
	data, err := source.Encode(testutil.UpdatedEvent("", testutil.LaadpaalLayer, refs...))
	require.NoError(t, err)
	return data
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, subject)
	assert.Error(t, err)
	_, err = New(testutil.NewMockNATSClient(), "")
	assert.Error(t, err)
	_, err = NewStream(nil, "EDITS", "", subject)
	assert.Error(t, err)
}

func TestSubscribe_DecodesPayloads(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	src, err := New(mock, subject, WithName("editor"))
	require.NoError(t, err)
	assert.Equal(t, "editor", src.Name())

	rec := &recorder{}
	sub, err := src.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, mock.Publish(ctx, subject, payload(t, feature.ObjectRef(7))))
	require.NoError(t, mock.Publish(ctx, subject, []byte(`not json`)))
	require.NoError(t, mock.Publish(ctx, subject, []byte(`{"layer": ""}`)))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "editor", events[0].Source)
	require.Len(t, events[0].Layers, 1)
	assert.Equal(t, testutil.LaadpaalLayer, events[0].Layers[0].Layer)
	require.Len(t, events[0].Layers[0].Updated, 1)
	assert.Equal(t, feature.ObjectRef(7), events[0].Layers[0].Updated[0].Ref())

	received, rejected := src.Stats()
	assert.Equal(t, int64(1), received)
	assert.Equal(t, int64(2), rejected)
}

func TestSubscribe_StopsAfterUnsubscribe(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	src, err := New(mock, subject)
	require.NoError(t, err)

	rec := &recorder{}
	sub, err := src.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	// the mock keeps delivering; the source must drop it
	require.NoError(t, mock.Publish(context.Background(), subject, payload(t, feature.ObjectRef(1))))
	assert.Empty(t, rec.all())
}

func TestSubscribe_NilHandler(t *testing.T) {
	src, err := New(testutil.NewMockNATSClient(), subject)
	require.NoError(t, err)
	_, err = src.Subscribe(context.Background(), nil)
	assert.Error(t, err)
}

type fakeConsumeContext struct{ stopped int }

func (f *fakeConsumeContext) Stop()                   { f.stopped++ }
func (f *fakeConsumeContext) Drain()                  {}
func (f *fakeConsumeContext) Closed() <-chan struct{} { return nil }

type fakeStream struct {
	created []jetstream.StreamConfig
	handler func(context.Context, []byte) error
	durable string
	cc      *fakeConsumeContext
}

func (f *fakeStream) CreateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.created = append(f.created, cfg)
	return nil, nil
}

func (f *fakeStream) ConsumeStream(_ context.Context, _, durable, _ string, h func(context.Context, []byte) error) (jetstream.ConsumeContext, error) {
	f.durable = durable
	f.handler = h
	f.cc = &fakeConsumeContext{}
	return f.cc, nil
}

func TestStream_AcksEverything(t *testing.T) {
	fake := &fakeStream{}
	src, err := NewStream(fake, "EDITS", "featuresync", subject)
	require.NoError(t, err)

	rec := &recorder{}
	sub, err := src.Subscribe(context.Background(), rec.handle)
	require.NoError(t, err)

	require.Len(t, fake.created, 1)
	assert.Equal(t, "EDITS", fake.created[0].Name)
	assert.Equal(t, []string{subject}, fake.created[0].Subjects)
	assert.Equal(t, "featuresync", fake.durable)

	ctx := context.Background()
	assert.NoError(t, fake.handler(ctx, payload(t, feature.GlobalRef("6f2a6b1c-1d3e-4f50-8a9b-0c1d2e3f4a5b"))))
	// poison messages are acked too
	assert.NoError(t, fake.handler(ctx, []byte(`{}`)))
	assert.Len(t, rec.all(), 1)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, fake.cc.stopped)

	assert.NoError(t, fake.handler(ctx, payload(t, feature.ObjectRef(2))))
	assert.Len(t, rec.all(), 1)
}

func TestStream_Integration(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream(), natsclient.WithFastStartup())

	src, err := NewStream(tc.Client, "EDITS", "", "edits.>")
	require.NoError(t, err)

	events := make(chan feature.EditEvent, 4)
	sub, err := src.Subscribe(context.Background(), func(e feature.EditEvent) { events <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, tc.Client.PublishToStream(context.Background(), "edits.laadpalen", payload(t, feature.ObjectRef(3))))

	select {
	case e := <-events:
		assert.Equal(t, feature.ObjectRef(3), e.Layers[0].Updated[0].Ref())
	case <-time.After(10 * time.Second):
		t.Fatal("no event consumed from stream")
	}
}
