// Package session tracks live call sessions: the connection table, per-call
// counters, and the handler that wires audio, transcripts, and suggestions
// together for one client.
package session

import (
	"sync"
	"time"
)

// Transport is the outbound half of a client connection. Fiber's websocket
// conn satisfies it; tests use fakes.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Session is the per-connection state owned by the Manager. Counter and
// metadata mutation happens under the Manager's lock; outbound writes take
// writeMu only, so one stalled transport cannot hold up the table.
type Session struct {
	ID              string
	Transport       Transport
	writeMu         sync.Mutex
	ConnectedAt     time.Time
	LastActivity    time.Time
	Messages        int
	AudioChunks     int
	TranscriptsSent int
	SuggestionsSent int
	Metadata        map[string]any
}

// Snapshot is an immutable copy of a session's counters for status
// reporting.
type Snapshot struct {
	SessionID       string         `json:"session_id"`
	ConnectedAt     string         `json:"connected_at"`
	LastActivity    string         `json:"last_activity"`
	Messages        int            `json:"message_count"`
	AudioChunks     int            `json:"audio_chunks_received"`
	TranscriptsSent int            `json:"transcripts_sent"`
	SuggestionsSent int            `json:"suggestions_sent"`
	Metadata        map[string]any `json:"metadata"`
}

func (s *Session) snapshot() Snapshot {
	meta := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	return Snapshot{
		SessionID:       s.ID,
		ConnectedAt:     s.ConnectedAt.UTC().Format(time.RFC3339),
		LastActivity:    s.LastActivity.UTC().Format(time.RFC3339),
		Messages:        s.Messages,
		AudioChunks:     s.AudioChunks,
		TranscriptsSent: s.TranscriptsSent,
		SuggestionsSent: s.SuggestionsSent,
		Metadata:        meta,
	}
}
