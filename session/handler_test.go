package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calldeck/copilot/agent"
	"github.com/calldeck/copilot/protocol"
	"github.com/calldeck/copilot/transcribe"
)

type frame struct {
	messageType int
	data        []byte
}

// scriptConn replays scripted inbound frames, then reports EOF, and records
// everything written back.
type scriptConn struct {
	mu     sync.Mutex
	frames []frame
	next   int
	events []any
	closed bool
}

func textFrame(s string) frame { return frame{gws.TextMessage, []byte(s)} }
func binFrame(b []byte) frame  { return frame{gws.BinaryMessage, b} }

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.frames) {
		return 0, nil, io.EOF
	}
	f := c.frames[c.next]
	c.next++
	return f.messageType, f.data, nil
}

func (c *scriptConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, v)
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any{}, c.events...)
}

type scriptedGenerator struct {
	reply string
}

func (g *scriptedGenerator) Generate(ctx context.Context, system string, turns []agent.ConversationTurn) (string, error) {
	return g.reply, nil
}

// degradedHandler builds a handler whose stream has no API key, so every
// DegradedInterval audio sends produce a deterministic final transcript.
func degradedHandler(reply string, interval int) (*Handler, *Manager) {
	mgr := NewManager()
	stream := transcribe.NewStream(transcribe.Config{DegradedInterval: interval})
	ag := agent.New(&scriptedGenerator{reply: reply}, nil, agent.WithCooldown(time.Nanosecond))
	return NewHandler(mgr, stream, ag), mgr
}

func eventsOfType[T any](events []any) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestHandler_ConnectedStatusAndTeardown(t *testing.T) {
	h, mgr := degradedHandler(agent.NoSuggestionSentinel, 100)
	conn := &scriptConn{}

	h.Serve(context.Background(), conn)

	written := conn.written()
	require.NotEmpty(t, written)
	status, ok := written[0].(protocol.Status)
	require.True(t, ok)
	assert.Equal(t, "connected", status.Status)
	assert.NotEmpty(t, status.SessionID)

	// session removed after the read loop ends
	assert.Equal(t, 0, mgr.Count())
}

func TestHandler_PingPong(t *testing.T) {
	h, _ := degradedHandler(agent.NoSuggestionSentinel, 100)
	conn := &scriptConn{frames: []frame{
		textFrame(`{"type":"ping"}`),
	}}

	h.Serve(context.Background(), conn)

	pongs := eventsOfType[protocol.Pong](conn.written())
	assert.Len(t, pongs, 1)
}

func TestHandler_InvalidJSONKeepsConnectionOpen(t *testing.T) {
	h, _ := degradedHandler(agent.NoSuggestionSentinel, 100)
	conn := &scriptConn{frames: []frame{
		textFrame(`{broken`),
		textFrame(`{"type":"ping"}`),
	}}

	h.Serve(context.Background(), conn)

	written := conn.written()
	errs := eventsOfType[protocol.ErrorEvent](written)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeInvalidJSON, errs[0].Code)

	// the frame after the bad one was still processed
	assert.Len(t, eventsOfType[protocol.Pong](written), 1)
}

func TestHandler_UnknownTypeReportsError(t *testing.T) {
	h, _ := degradedHandler(agent.NoSuggestionSentinel, 100)
	conn := &scriptConn{frames: []frame{
		textFrame(`{"type":"telepathy"}`),
	}}

	h.Serve(context.Background(), conn)

	errs := eventsOfType[protocol.ErrorEvent](conn.written())
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeUnknownType, errs[0].Code)
}

func TestHandler_AudioDrivesTranscriptsAndSuggestions(t *testing.T) {
	h, _ := degradedHandler("Mention the annual discount.", 2)
	conn := &scriptConn{frames: []frame{
		binFrame(make([]byte, 320)),
		binFrame(make([]byte, 320)),
	}}

	h.Serve(context.Background(), conn)

	written := conn.written()
	transcripts := eventsOfType[protocol.Transcript](written)
	require.Len(t, transcripts, 1)
	assert.True(t, transcripts[0].IsFinal)
	assert.NotEmpty(t, transcripts[0].Text)

	suggestions := eventsOfType[protocol.Suggestion](written)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "Mention the annual discount.", suggestions[0].Response)
	assert.Equal(t, transcripts[0].Text, suggestions[0].Question)
}

func TestHandler_JSONAudioChunksAreCounted(t *testing.T) {
	h, mgr := degradedHandler(agent.NoSuggestionSentinel, 100)

	var sessionID string
	mgr.OnConnect(func(id string) { sessionID = id })

	conn := &scriptConn{frames: []frame{
		textFrame(`{"type":"audio_chunk","data":[1,2,3,4]}`),
		textFrame(`{"type":"control","control":"get_status"}`),
	}}

	h.Serve(context.Background(), conn)
	require.NotEmpty(t, sessionID)

	statuses := eventsOfType[protocol.Status](conn.written())
	require.GreaterOrEqual(t, len(statuses), 2)
	active := statuses[len(statuses)-1]
	snap, ok := active.Session.(Snapshot)
	require.True(t, ok)
	assert.Equal(t, 1, snap.AudioChunks)
}

func TestHandler_StopAndClearContext(t *testing.T) {
	h, _ := degradedHandler(agent.NoSuggestionSentinel, 2)
	conn := &scriptConn{frames: []frame{
		textFrame(`{"type":"control","control":"stop"}`),
		// audio after stop is counted but not forwarded
		binFrame(make([]byte, 320)),
		binFrame(make([]byte, 320)),
		textFrame(`{"type":"control","control":"clear_context"}`),
	}}

	h.Serve(context.Background(), conn)

	written := conn.written()
	assert.Empty(t, eventsOfType[protocol.Transcript](written))

	var saw []string
	for _, s := range eventsOfType[protocol.Status](written) {
		saw = append(saw, s.Status)
	}
	assert.Contains(t, saw, "stopped")
	assert.Contains(t, saw, "context_cleared")
}

func TestHandler_SpeakerFilterSuppressesSelfSuggestions(t *testing.T) {
	// degraded transcripts all come from speaker 0; with the filter on, the
	// first speaker becomes self and never triggers suggestions
	h, _ := degradedHandler("Some advice.", 2)
	conn := &scriptConn{frames: []frame{
		textFrame(`{"type":"control","control":"start","params":{"speakerFilterEnabled":true}}`),
		binFrame(make([]byte, 320)),
		binFrame(make([]byte, 320)),
		binFrame(make([]byte, 320)),
		binFrame(make([]byte, 320)),
	}}

	h.Serve(context.Background(), conn)

	written := conn.written()
	transcripts := eventsOfType[protocol.Transcript](written)
	require.Len(t, transcripts, 2)
	for _, tr := range transcripts {
		assert.True(t, tr.IsSelf)
	}
	assert.Empty(t, eventsOfType[protocol.Suggestion](written))
}

func TestHandler_StartInstallsSystemPrompt(t *testing.T) {
	mgr := NewManager()
	stream := transcribe.NewStream(transcribe.Config{DegradedInterval: 100})
	gen := &scriptedGenerator{reply: agent.NoSuggestionSentinel}
	ag := agent.New(gen, nil)
	h := NewHandler(mgr, stream, ag)

	prompt := "You are a copilot for enterprise sales calls covering pricing and onboarding."
	conn := &scriptConn{frames: []frame{
		textFrame(`{"type":"control","control":"start","params":{"systemPrompt":"` + prompt + `"}}`),
	}}

	h.Serve(context.Background(), conn)
	assert.Equal(t, prompt, ag.SystemPrompt())
}
