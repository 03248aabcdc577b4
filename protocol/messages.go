// Package protocol defines the JSON messages exchanged with clients over the
// session websocket, plus helpers for decoding the audio payload variants.
package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidMessage marks a client frame that could not be understood. The
// connection stays open; the client gets an error event instead.
var ErrInvalidMessage = errors.New("invalid client message")

// Client -> server message types.
const (
	TypeAudioChunk = "audio_chunk"
	TypeControl    = "control"
	TypeCommand    = "command"
	TypePing       = "ping"
	TypeStart      = "start"
	TypeStop       = "stop"
)

// Control verbs carried by control/command messages.
const (
	ControlStart        = "start"
	ControlStop         = "stop"
	ControlClearContext = "clear_context"
	ControlGetStatus    = "get_status"
	ControlPing         = "ping"
)

// Error codes sent to clients.
const (
	CodeInvalidJSON   = "INVALID_JSON"
	CodeUnknownType   = "UNKNOWN_TYPE"
	CodeInternalError = "INTERNAL_ERROR"
)

// ClientMessage is the union of every JSON frame a client may send.
type ClientMessage struct {
	Type        string         `json:"type"`
	Data        []int          `json:"data,omitempty"`
	AudioBase64 string         `json:"audio_base64,omitempty"`
	Timestamp   *float64       `json:"timestamp,omitempty"`
	Sequence    *int64         `json:"sequence,omitempty"`
	Control     string         `json:"control,omitempty"`
	Action      string         `json:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// ParseClient decodes a text frame into a ClientMessage.
func ParseClient(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, errors.Wrap(ErrInvalidMessage, err.Error())
	}
	return msg, nil
}

// ControlVerb returns the control verb, accepting the legacy "action" key.
func (m ClientMessage) ControlVerb() string {
	if m.Control != "" {
		return m.Control
	}
	return m.Action
}

// AudioBytes extracts the PCM payload from whichever encoding the client
// used: a list of 16-bit samples or a base64 string. Raw binary frames skip
// this path entirely.
func (m ClientMessage) AudioBytes() ([]byte, error) {
	switch {
	case len(m.Data) > 0:
		buf := make([]byte, 2*len(m.Data))
		for i, sample := range m.Data {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(sample)))
		}
		return buf, nil
	case m.AudioBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(m.AudioBase64)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidMessage, "bad base64 audio")
		}
		return decoded, nil
	default:
		return nil, errors.Wrap(ErrInvalidMessage, "audio_chunk carries no audio")
	}
}

// Transcript is the server -> client transcript event.
type Transcript struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	Speaker     string  `json:"speaker"`
	SpeakerID   int     `json:"speaker_id"`
	SpeakerRole string  `json:"speaker_role"`
	IsFinal     bool    `json:"is_final"`
	Confidence  float64 `json:"confidence"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Timestamp   string  `json:"timestamp"`
	IsSelf      bool    `json:"is_self"`
}

// Suggestion is the server -> client advisory event. Question carries the
// trigger utterance that produced the advice.
type Suggestion struct {
	Type         string  `json:"type"`
	Question     string  `json:"question"`
	Response     string  `json:"response"`
	Confidence   float64 `json:"confidence"`
	QuestionType string  `json:"question_type"`
	Source       string  `json:"source"`
	Timestamp    string  `json:"timestamp"`
}

// Status is the server -> client state notification.
type Status struct {
	Type                   string `json:"type"`
	Status                 string `json:"status"`
	Message                string `json:"message,omitempty"`
	SessionID              string `json:"session_id,omitempty"`
	Session                any    `json:"session,omitempty"`
	IsListening            *bool  `json:"is_listening,omitempty"`
	TranscriptionConnected *bool  `json:"transcription_connected,omitempty"`
}

// ErrorEvent is the server -> client failure notification.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

// NewStatus builds a status event.
func NewStatus(status, message string) Status {
	return Status{Type: "status", Status: status, Message: message}
}

// NewError builds an error event.
func NewError(code, message string) ErrorEvent {
	return ErrorEvent{Type: "error", Code: code, Message: message}
}

// NewPong builds a pong event.
func NewPong() Pong { return Pong{Type: "pong"} }

// Now formats the timestamp the way clients expect.
func Now() string { return time.Now().UTC().Format(time.RFC3339Nano) }
