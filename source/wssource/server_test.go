package wssource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/metric"
	"github.com/c360/featuresync/notify"
	"github.com/c360/featuresync/source"
	"github.com/c360/featuresync/testutil"
)

func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(cfg, opts...)
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Stop(time.Second)
	})
	return srv, hs
}

func dial(t *testing.T, hs *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func editsEnvelope(t *testing.T, id string, refs ...feature.Ref) Envelope {
	t.Helper()
	payload, err := source.Encode(testutil.UpdatedEvent("", testutil.LaadpaalLayer, refs...))
	require.NoError(t, err)
	return Envelope{Type: TypeEdits, ID: id, Timestamp: time.Now().UnixMilli(), Payload: payload}
}

func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Clients() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "edits"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Port = 70000
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestEdits_AckedAndEmitted(t *testing.T) {
	srv, hs := newTestServer(t, DefaultConfig(), WithName("editor"))
	assert.Equal(t, "editor", srv.Name())

	events := make(chan feature.EditEvent, 1)
	sub, err := srv.Subscribe(context.Background(), func(e feature.EditEvent) { events <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	conn := dial(t, hs, "", nil)
	require.NoError(t, conn.WriteJSON(editsEnvelope(t, "m-1", feature.ObjectRef(5))))

	ack := readEnvelope(t, conn)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, "m-1", ack.ID)

	select {
	case e := <-events:
		assert.Equal(t, "editor", e.Source)
		require.Len(t, e.Layers, 1)
		assert.Equal(t, feature.ObjectRef(5), e.Layers[0].Updated[0].Ref())
	case <-time.After(5 * time.Second):
		t.Fatal("edit not emitted")
	}
}

func TestEdits_Nacks(t *testing.T) {
	_, hs := newTestServer(t, DefaultConfig())
	conn := dial(t, hs, "", nil)

	tests := []struct {
		name   string
		msg    string
		reason string
	}{
		{"not json", `nope`, "invalid_envelope"},
		{"bad payload", `{"type":"edits","id":"m-2","payload":{"layer":""}}`, "invalid_payload"},
		{"unknown type", `{"type":"subscribe","id":"m-3"}`, "unknown_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.msg)))
			env := readEnvelope(t, conn)
			assert.Equal(t, TypeNack, env.Type)

			var nack NackPayload
			require.NoError(t, json.Unmarshal(env.Payload, &nack))
			assert.Equal(t, tt.reason, nack.Reason)
			assert.NotEmpty(t, nack.Error)
		})
	}
}

func TestPing(t *testing.T) {
	_, hs := newTestServer(t, DefaultConfig())
	conn := dial(t, hs, "", nil)

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypePing, ID: "p"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypePong, env.Type)
	assert.Equal(t, "p", env.ID)
}

func TestAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token = "s3cret"
	_, hs := newTestServer(t, cfg)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=wrong", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial(t, hs, "?token=s3cret", nil)
	dial(t, hs, "", http.Header{"Authorization": []string{"Bearer s3cret"}})
}

func TestAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://editor.example.nl"}
	_, hs := newTestServer(t, cfg)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, hs, "", http.Header{"Origin": []string{"https://editor.example.nl"}})
}

func TestMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	srv, hs := newTestServer(t, cfg)

	dial(t, hs, "", nil)
	waitForClients(t, srv, 1)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotify_Broadcasts(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	srv, hs := newTestServer(t, DefaultConfig(), WithMetrics(registry))

	a := dial(t, hs, "", nil)
	b := dial(t, hs, "", nil)
	waitForClients(t, srv, 2)

	srv.Notify(notify.New(notify.Warning, "Zoekgebied niet bijgewerkt"))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeNotice, env.Type)
		assert.NotEmpty(t, env.ID)

		var n struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &n))
		assert.Equal(t, "Zoekgebied niet bijgewerkt", n.Message)
		assert.Equal(t, string(notify.Warning), n.Severity)
	}

	assert.Equal(t, 2.0, promtestutil.ToFloat64(srv.metrics.noticesSent))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(srv.metrics.connectionsActive))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(srv.metrics.connectionsTotal))
}

func TestMetrics_CountMessages(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	srv, hs := newTestServer(t, DefaultConfig(), WithMetrics(registry))
	conn := dial(t, hs, "", nil)

	require.NoError(t, conn.WriteJSON(editsEnvelope(t, "m", feature.ObjectRef(1))))
	readEnvelope(t, conn)
	require.NoError(t, conn.WriteJSON(Envelope{Type: "bogus"}))
	readEnvelope(t, conn)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(srv.metrics.messagesReceived.WithLabelValues(TypeEdits)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(srv.metrics.errorsTotal.WithLabelValues("unknown_type")))

	require.NoError(t, conn.Close())
	waitForClients(t, srv, 0)
	assert.Equal(t, 0.0, promtestutil.ToFloat64(srv.metrics.connectionsActive))
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	srv, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	assert.Error(t, srv.Start(context.Background()))
	require.NotNil(t, srv.Addr())

	url := "ws://" + srv.Addr().String() + cfg.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, srv, 1)

	require.NoError(t, srv.Stop(2*time.Second))
	assert.Equal(t, 0, srv.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
