package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream stands in for the transcription provider: it accepts the
// websocket, records inbound binary frames, and lets tests push result
// payloads down to the stream.
type fakeUpstream struct {
	server   *httptest.Server
	received chan []byte
	conns    chan *gws.Conn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{
		received: make(chan []byte, 64),
		conns:    make(chan *gws.Conn, 4),
	}
	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == gws.BinaryMessage {
				f.received <- payload
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeUpstream) expectNoAudio(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.received:
		t.Fatalf("unexpected audio frame of %d bytes", len(data))
	case <-time.After(150 * time.Millisecond):
	}
}

func (f *fakeUpstream) expectAudio(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-f.received:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audio frame")
		return nil
	}
}

func connectedStream(t *testing.T, cfg Config) (*Stream, *fakeUpstream) {
	t.Helper()

	up := newFakeUpstream(t)
	cfg.APIKey = "test-key"
	cfg.Endpoint = up.wsURL()
	s := NewStream(cfg)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Connect(context.Background()))
	require.True(t, s.IsConnected())
	require.False(t, s.Degraded())
	return s, up
}

func TestStream_BuffersUntilThreshold(t *testing.T) {
	s, up := connectedStream(t, Config{BufferThreshold: 64})

	require.NoError(t, s.SendAudio(make([]byte, 63)))
	up.expectNoAudio(t)

	require.NoError(t, s.SendAudio([]byte{0xAA}))
	frame := up.expectAudio(t)
	assert.Len(t, frame, 64)
	assert.Equal(t, byte(0xAA), frame[63])
}

func TestStream_FlushForwardsExactlyOnce(t *testing.T) {
	s, up := connectedStream(t, Config{BufferThreshold: 4096})

	payload := []byte{1, 2, 3, 4, 5}
	require.NoError(t, s.SendAudio(payload))
	up.expectNoAudio(t)

	require.NoError(t, s.Flush())
	assert.Equal(t, payload, up.expectAudio(t))

	require.NoError(t, s.Flush())
	up.expectNoAudio(t)
}

func TestStream_EmitsTranscriptEvents(t *testing.T) {
	up := newFakeUpstream(t)
	s := NewStream(Config{APIKey: "test-key", Endpoint: up.wsURL()})
	t.Cleanup(func() { s.Close() })

	events := make(chan Event, 8)
	s.SetEventCallback(func(ev Event) { events <- ev })

	require.NoError(t, s.Connect(context.Background()))

	serverConn := <-up.conns
	result := `{"type":"Results","is_final":true,"channel":{"alternatives":[{` +
		`"transcript":"Hello there","confidence":0.98,"words":[` +
		`{"word":"Hello","start":0.1,"end":0.4,"confidence":0.99,"speaker":1},` +
		`{"word":"there","start":0.5,"end":0.8,"confidence":0.97,"speaker":1}]}]}}`
	require.NoError(t, serverConn.WriteMessage(gws.TextMessage, []byte(result)))

	select {
	case ev := <-events:
		assert.Equal(t, "Hello there", ev.Text)
		assert.True(t, ev.IsFinal)
		assert.Equal(t, 1, ev.SpeakerID)
		assert.Equal(t, RoleUnknown, ev.Role)
		assert.InDelta(t, 0.98, ev.Confidence, 1e-9)
		assert.InDelta(t, 0.1, ev.StartTime, 1e-9)
		assert.InDelta(t, 0.8, ev.EndTime, 1e-9)
		require.Len(t, ev.Words, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript event")
	}
}

func TestStream_DropsMetadataMessages(t *testing.T) {
	up := newFakeUpstream(t)
	s := NewStream(Config{APIKey: "test-key", Endpoint: up.wsURL()})
	t.Cleanup(func() { s.Close() })

	events := make(chan Event, 8)
	s.SetEventCallback(func(ev Event) { events <- ev })
	require.NoError(t, s.Connect(context.Background()))

	serverConn := <-up.conns
	require.NoError(t, serverConn.WriteMessage(gws.TextMessage,
		[]byte(`{"type":"Metadata","request_id":"abc"}`)))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStream_NoAPIKeyEntersDegradedMode(t *testing.T) {
	s := NewStream(Config{DegradedInterval: 3})
	t.Cleanup(func() { s.Close() })

	var mu sync.Mutex
	var events []Event
	s.SetEventCallback(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Degraded())
	assert.True(t, s.IsConnected())

	for i := 0; i < 6; i++ {
		require.NoError(t, s.SendAudio([]byte{0}))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.True(t, events[0].IsFinal)
	assert.Equal(t, RoleCustomer, events[0].Role)
}

func TestStream_DialFailureEntersDegradedMode(t *testing.T) {
	s := NewStream(Config{APIKey: "test-key", Endpoint: "ws://127.0.0.1:1"})
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Degraded())
}

func TestStream_ReconnectExhaustionDegrades(t *testing.T) {
	up := newFakeUpstream(t)
	s := NewStream(Config{
		APIKey:               "test-key",
		Endpoint:             up.wsURL(),
		MaxReconnectAttempts: 2,
		BackoffBase:          10 * time.Millisecond,
	})
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Connect(context.Background()))
	require.False(t, s.Degraded())

	// kill the upstream entirely so every reconnect attempt fails; the
	// hijacked websocket conn is no longer tracked by httptest, so it has
	// to be closed explicitly
	up.server.CloseClientConnections()
	up.server.Close()
	(<-up.conns).Close()

	require.Eventually(t, s.Degraded, 3*time.Second, 20*time.Millisecond)
}

func TestStream_CloseIsIdempotentAndStopsAudio(t *testing.T) {
	s, _ := connectedStream(t, Config{})

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())

	assert.ErrorIs(t, s.SendAudio([]byte{1}), ErrStreamClosed)
	assert.NoError(t, s.Close())
}

func TestStream_ConnectAfterCloseFails(t *testing.T) {
	s, _ := connectedStream(t, Config{})
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrStreamClosed)
}
