package notify

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_DefaultDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, Info.DefaultDuration())
	assert.Equal(t, 3*time.Second, Success.DefaultDuration())
	assert.Equal(t, 5*time.Second, Warning.DefaultDuration())
	assert.Equal(t, 6*time.Second, Error.DefaultDuration())
}

func TestNotice_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(New(Error, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"boom","severity":"error","durationMs":6000}`, string(data))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	sink.Notify(New(Warning, "queue full"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "queue full", rec["msg"])
	assert.Equal(t, "warning", rec["severity"])
}

func TestFanout(t *testing.T) {
	var got []string
	rec := SinkFunc(func(n Notice) { got = append(got, n.Message) })

	Fanout{rec, nil, rec}.Notify(New(Info, "x"))
	assert.Equal(t, []string{"x", "x"}, got)
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.subject, p.data = subject, data
	return p.err
}

func TestPublishSink(t *testing.T) {
	p := &fakePublisher{}
	NewPublishSink(p, "featuresync.notices", nil).Notify(New(Success, "3 zoekgebieden bijgewerkt"))

	assert.Equal(t, "featuresync.notices", p.subject)
	assert.JSONEq(t, `{"message":"3 zoekgebieden bijgewerkt","severity":"success","durationMs":3000}`, string(p.data))

	p.err = stderrors.New("no connection")
	NewPublishSink(p, "x", nil).Notify(New(Info, "ignored"))
}
