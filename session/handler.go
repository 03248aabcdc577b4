package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/calldeck/copilot/agent"
	"github.com/calldeck/copilot/logger"
	"github.com/calldeck/copilot/protocol"
	"github.com/calldeck/copilot/transcribe"
)

// generation timeout per suggestion call
const generateTimeout = 30 * time.Second

// Conn is the full duplex connection a handler serves. Both fiber's and
// gorilla's websocket conns satisfy it.
type Conn interface {
	Transport
	ReadMessage() (messageType int, p []byte, err error)
}

// Handler runs one call session: it reads client frames, forwards audio to
// the transcription stream, and pushes transcripts and suggestions back
// through the manager.
type Handler struct {
	id     string
	mgr    *Manager
	stream *transcribe.Stream
	agent  *agent.Agent

	mu            sync.Mutex
	active        bool
	listening     bool
	speakerFilter bool
	selfSpeaker   *int
}

// NewHandler wires a handler to its per-session collaborators. The stream
// and agent belong exclusively to this handler.
func NewHandler(mgr *Manager, stream *transcribe.Stream, ag *agent.Agent) *Handler {
	return &Handler{mgr: mgr, stream: stream, agent: ag, active: true}
}

// Serve registers the connection and processes frames until the client
// disconnects. Teardown always completes, whatever state the pipeline is in.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	h.id = h.mgr.Open(conn, nil)
	defer func() {
		h.cleanup()
		h.mgr.Close(h.id)
	}()

	h.stream.SetEventCallback(h.handleTranscript)
	if err := h.stream.Connect(ctx); err != nil {
		logger.Error("stream setup failed", "session_id", h.id, "error", err)
	}

	connected := h.stream.IsConnected()
	h.mu.Lock()
	h.listening = connected
	h.mu.Unlock()

	status := protocol.NewStatus("connected", "Connected to call copilot")
	status.SessionID = h.id
	status.TranscriptionConnected = &connected
	h.mgr.Deliver(h.id, status)

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Info("client disconnected", "session_id", h.id)
			return
		}

		switch mt {
		case gws.TextMessage:
			h.handleText(ctx, raw)
		case gws.BinaryMessage:
			h.handleBinary(raw)
		}
	}
}

func (h *Handler) handleText(ctx context.Context, raw []byte) {
	msg, err := protocol.ParseClient(raw)
	if err != nil {
		logger.Warn("invalid client frame", "session_id", h.id, "error", err)
		h.mgr.Deliver(h.id, protocol.NewError(protocol.CodeInvalidJSON, "Invalid JSON message"))
		return
	}

	switch msg.Type {
	case protocol.TypeAudioChunk:
		h.handleAudioChunk(msg)
	case protocol.TypeControl, protocol.TypeCommand:
		h.handleControl(ctx, msg.ControlVerb(), msg.Params)
	case protocol.TypePing:
		h.handleControl(ctx, protocol.ControlPing, nil)
	case protocol.TypeStart:
		h.handleControl(ctx, protocol.ControlStart, nil)
	case protocol.TypeStop:
		h.handleControl(ctx, protocol.ControlStop, nil)
	default:
		logger.Debug("unknown message type", "session_id", h.id, "type", msg.Type)
		h.mgr.Deliver(h.id, protocol.NewError(protocol.CodeUnknownType,
			fmt.Sprintf("Unknown message type %q", msg.Type)))
	}
}

func (h *Handler) handleAudioChunk(msg protocol.ClientMessage) {
	h.mgr.RecordAudio(h.id)

	h.mu.Lock()
	listening := h.listening
	h.mu.Unlock()
	if !listening {
		return
	}

	audio, err := msg.AudioBytes()
	if err != nil {
		logger.Warn("audio chunk without payload", "session_id", h.id, "error", err)
		h.mgr.Deliver(h.id, protocol.NewError(protocol.CodeInvalidJSON, "audio_chunk carries no audio"))
		return
	}

	if err := h.stream.SendAudio(audio); err != nil {
		logger.Error("audio forward failed", "session_id", h.id, "error", err)
	}
}

func (h *Handler) handleBinary(data []byte) {
	h.mgr.RecordAudio(h.id)

	h.mu.Lock()
	listening := h.listening
	h.mu.Unlock()
	if !listening {
		return
	}

	if err := h.stream.SendAudio(data); err != nil {
		logger.Error("audio forward failed", "session_id", h.id, "error", err)
	}
}

func (h *Handler) handleControl(ctx context.Context, verb string, params map[string]any) {
	switch verb {
	case protocol.ControlStart:
		if prompt, ok := params["systemPrompt"].(string); ok && prompt != "" {
			h.agent.SetSystemPrompt(prompt)
			logger.Info("custom system prompt installed", "session_id", h.id, "length", len(prompt))
		}
		if enabled, ok := params["speakerFilterEnabled"].(bool); ok {
			h.mu.Lock()
			h.speakerFilter = enabled
			h.selfSpeaker = nil
			h.mu.Unlock()
			logger.Info("speaker filter set", "session_id", h.id, "enabled", enabled)
		}

		h.mu.Lock()
		listening := h.listening
		h.mu.Unlock()
		if !listening {
			if err := h.stream.Connect(ctx); err != nil {
				logger.Error("stream connect failed", "session_id", h.id, "error", err)
			}
			connected := h.stream.IsConnected()
			h.mu.Lock()
			h.listening = connected
			h.mu.Unlock()

			if connected {
				h.mgr.Deliver(h.id, protocol.NewStatus("listening", "Started listening"))
			} else {
				h.mgr.Deliver(h.id, protocol.NewStatus("transcription_unavailable", "Transcription service unavailable"))
			}
		}

	case protocol.ControlStop:
		h.mu.Lock()
		h.listening = false
		h.mu.Unlock()
		if err := h.stream.Flush(); err != nil {
			logger.Warn("flush on stop failed", "session_id", h.id, "error", err)
		}
		h.mgr.Deliver(h.id, protocol.NewStatus("stopped", "Stopped listening"))

	case protocol.ControlClearContext:
		h.agent.ClearSession()
		h.mgr.Deliver(h.id, protocol.NewStatus("context_cleared", "Conversation session cleared"))

	case protocol.ControlGetStatus:
		snap, _ := h.mgr.Get(h.id)
		h.mu.Lock()
		listening := h.listening
		h.mu.Unlock()
		connected := h.stream.IsConnected()

		status := protocol.NewStatus("active", "")
		status.Session = snap
		status.IsListening = &listening
		status.TranscriptionConnected = &connected
		h.mgr.Deliver(h.id, status)

	case protocol.ControlPing:
		h.mgr.Deliver(h.id, protocol.NewPong())

	default:
		logger.Debug("unknown control verb", "session_id", h.id, "verb", verb)
	}
}

// handleTranscript runs on the stream's receive goroutine. Transcripts are
// always delivered; suggestion generation is skipped for the self speaker
// when the filter is on.
func (h *Handler) handleTranscript(ev transcribe.Event) {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}

	if h.speakerFilter && h.selfSpeaker == nil {
		id := ev.SpeakerID
		h.selfSpeaker = &id
		logger.Info("first speaker registered as self", "session_id", h.id, "speaker_id", id)
	}
	isSelf := h.speakerFilter && h.selfSpeaker != nil && *h.selfSpeaker == ev.SpeakerID
	h.mu.Unlock()

	label := fmt.Sprintf("Speaker %d", ev.SpeakerID)

	h.mgr.Deliver(h.id, protocol.Transcript{
		Type:        "transcript",
		Text:        ev.Text,
		Speaker:     label,
		SpeakerID:   ev.SpeakerID,
		SpeakerRole: ev.Role.String(),
		IsFinal:     ev.IsFinal,
		Confidence:  ev.Confidence,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		Timestamp:   protocol.Now(),
		IsSelf:      isSelf,
	})

	if !ev.IsFinal || isSelf {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	suggestion := h.agent.ProcessUtterance(ctx, ev.Text, label, ev.IsFinal)
	if suggestion == nil {
		return
	}

	h.mgr.Deliver(h.id, protocol.Suggestion{
		Type:         "suggestion",
		Question:     ev.Text,
		Response:     suggestion.Text,
		Confidence:   suggestion.Confidence,
		QuestionType: suggestion.Kind.String(),
		Source:       suggestion.Source,
		Timestamp:    suggestion.Timestamp.Format(time.RFC3339Nano),
	})
	logger.Info("suggestion sent",
		"session_id", h.id,
		"kind", suggestion.Kind.String(),
		"confidence", fmt.Sprintf("%.2f", suggestion.Confidence))
}

func (h *Handler) cleanup() {
	h.mu.Lock()
	h.active = false
	h.listening = false
	h.mu.Unlock()

	if err := h.stream.Close(); err != nil {
		logger.Error("stream close failed", "session_id", h.id, "error", err)
	}
	h.agent.ClearSession()
	logger.Info("session cleaned up", "session_id", h.id)
}
