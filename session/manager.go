package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calldeck/copilot/logger"
	"github.com/calldeck/copilot/protocol"
)

// StatusReport is the manager-wide view served by the status endpoint.
type StatusReport struct {
	ActiveSessions int        `json:"active_sessions"`
	Sessions       []Snapshot `json:"sessions"`
}

// Manager owns the table of live sessions. The table is the only state
// shared across calls; one mutex guards registration, lookup, and counter
// mutation. Outbound writes are serialized per session so a transport never
// sees interleaved frames and a slow client cannot stall the table.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	onConnect    []func(sessionID string)
	onDisconnect []func(sessionID string)
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Open registers a transport and returns the new session id.
func (m *Manager) Open(t Transport, metadata map[string]any) string {
	id := uuid.New().String()
	now := time.Now()

	m.mu.Lock()
	if metadata == nil {
		metadata = make(map[string]any)
	}
	m.sessions[id] = &Session{
		ID:           id,
		Transport:    t,
		ConnectedAt:  now,
		LastActivity: now,
		Metadata:     metadata,
	}
	total := len(m.sessions)
	callbacks := append([]func(string){}, m.onConnect...)
	m.mu.Unlock()

	logger.Info("session connected", "session_id", id, "total", total)
	for _, cb := range callbacks {
		cb(id)
	}
	return id
}

// Close removes a session. Safe to call more than once.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	remaining := len(m.sessions)
	callbacks := append([]func(string){}, m.onDisconnect...)
	m.mu.Unlock()

	if !ok {
		return
	}

	logger.Info("session disconnected",
		"session_id", id,
		"messages", sess.Messages,
		"audio_chunks", sess.AudioChunks,
		"transcripts", sess.TranscriptsSent,
		"suggestions", sess.SuggestionsSent,
		"remaining", remaining)

	for _, cb := range callbacks {
		cb(id)
	}
}

// Deliver sends a JSON event to one session and updates its counters. A
// write failure marks the session degraded but leaves teardown to the read
// loop. Returns false when the session is unknown or the write failed.
//
// The transport write happens under the session's own write mutex, not the
// table lock, so a stalled client blocks only its own deliveries.
func (m *Manager) Deliver(id string, event any) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		logger.Warn("deliver to unknown session", "session_id", id)
		return false
	}

	sess.writeMu.Lock()
	err := sess.Transport.WriteJSON(event)
	sess.writeMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		logger.Error("delivery failed", "session_id", id, "error", err)
		sess.Metadata["degraded"] = true
		return false
	}

	sess.Messages++
	sess.LastActivity = time.Now()
	switch event.(type) {
	case protocol.Transcript:
		sess.TranscriptsSent++
	case protocol.Suggestion:
		sess.SuggestionsSent++
	}
	return true
}

// RecordAudio counts one inbound audio chunk.
func (m *Manager) RecordAudio(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		sess.AudioChunks++
		sess.LastActivity = time.Now()
	}
}

// UpdateMetadata merges metadata into a session.
func (m *Manager) UpdateMetadata(id string, metadata map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return false
	}
	for k, v := range metadata {
		sess.Metadata[k] = v
	}
	return true
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Status snapshots the whole table for the status endpoint.
func (m *Manager) Status() StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := StatusReport{
		ActiveSessions: len(m.sessions),
		Sessions:       make([]Snapshot, 0, len(m.sessions)),
	}
	for _, sess := range m.sessions {
		report.Sessions = append(report.Sessions, sess.snapshot())
	}
	return report
}

// Broadcast delivers an event to every session, returning how many writes
// succeeded.
func (m *Manager) Broadcast(event any) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sent := 0
	for _, id := range ids {
		if m.Deliver(id, event) {
			sent++
		}
	}
	return sent
}

// OnConnect registers a lifecycle callback.
func (m *Manager) OnConnect(cb func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, cb)
}

// OnDisconnect registers a lifecycle callback.
func (m *Manager) OnDisconnect(cb func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, cb)
}

// CloseAll shuts every session down, for server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	transports := make([]Transport, 0, len(m.sessions))
	for id, sess := range m.sessions {
		ids = append(ids, id)
		transports = append(transports, sess.Transport)
	}
	m.mu.Unlock()

	logger.Info("closing all sessions", "count", len(ids))
	for i, id := range ids {
		if err := transports[i].Close(); err != nil {
			logger.Debug("transport close failed", "session_id", id, "error", err)
		}
		m.Close(id)
	}
}
