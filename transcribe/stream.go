package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/calldeck/copilot/logger"
)

// Provider failure taxonomy. Unavailable means no credentials or no
// reachable endpoint and sends the stream into degraded mode; Disconnected
// is retryable with capped backoff.
var (
	ErrProviderUnavailable  = errors.New("transcription provider unavailable")
	ErrProviderDisconnected = errors.New("transcription provider disconnected")
	ErrStreamClosed         = errors.New("transcription stream closed")
)

// State is the lifecycle phase of a Stream.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnectBackoff
	StateClosed
)

// String returns a readable form for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnectBackoff:
		return "reconnect_backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config parameterizes one upstream streaming connection.
type Config struct {
	APIKey     string
	Endpoint   string
	Model      string
	Encoding   string
	SampleRate int
	Channels   int
	Diarize    bool

	// BufferThreshold is how many bytes accumulate before a flush upstream.
	BufferThreshold int
	// MaxReconnectAttempts caps the backoff loop before degrading.
	MaxReconnectAttempts int
	// BackoffBase is the first reconnect delay; it doubles per attempt.
	BackoffBase time.Duration
	// DegradedInterval is how many audio sends separate placeholder
	// transcripts in degraded mode.
	DegradedInterval int

	Dialer *gws.Dialer
}

func (c *Config) fillDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "wss://api.deepgram.com/v1/listen"
	}
	if c.Model == "" {
		c.Model = "nova-3"
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.BufferThreshold == 0 {
		c.BufferThreshold = 4096
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.DegradedInterval == 0 {
		c.DegradedInterval = 100
	}
	if c.Dialer == nil {
		c.Dialer = gws.DefaultDialer
	}
}

// Stream owns one upstream streaming-transcription connection. It buffers
// outbound audio, runs the receive loop, reconnects with capped exponential
// backoff, and resolves speaker roles before emitting events.
type Stream struct {
	cfg Config

	mu       sync.Mutex
	state    State
	conn     *gws.Conn
	buffer   []byte
	degraded *DegradedSource
	closed   bool

	cancel  context.CancelFunc
	tracker *SpeakerTracker
	onEvent func(Event)
}

// NewStream builds a stream in the Disconnected state.
func NewStream(cfg Config) *Stream {
	cfg.fillDefaults()
	return &Stream{
		cfg:     cfg,
		state:   StateDisconnected,
		tracker: NewSpeakerTracker(),
	}
}

// SetEventCallback registers the sink for transcript events. Must be set
// before Connect.
func (s *Stream) SetEventCallback(cb func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = cb
}

// Connect opens the upstream connection and starts the receive loop. When
// the provider cannot be reached, or no API key is configured, the stream
// falls back to the degraded producer so the pipeline stays functional;
// Connect itself only errors after Close.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if s.state == StateStreaming {
		return nil
	}

	s.state = StateConnecting

	if s.cfg.APIKey == "" {
		logger.Warn("no transcription API key configured, entering degraded mode")
		s.enterDegradedLocked()
		return nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		logger.Warn("upstream dial failed, entering degraded mode",
			"error", errors.Wrap(ErrProviderUnavailable, err.Error()).Error())
		s.enterDegradedLocked()
		return nil
	}

	s.conn = conn
	s.state = StateStreaming

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.receiveLoop(loopCtx, conn)

	logger.Info("connected to transcription provider", "model", s.cfg.Model)
	return nil
}

// SendAudio appends to the internal buffer and flushes once the threshold
// is crossed. In degraded mode it advances the placeholder producer.
func (s *Stream) SendAudio(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}

	if s.degraded != nil {
		ev, ok := s.degraded.Feed()
		cb := s.onEvent
		s.mu.Unlock()
		if ok && cb != nil {
			logger.Debug("degraded transcript generated", "text", ev.Text)
			cb(ev)
		}
		return nil
	}

	s.buffer = append(s.buffer, data...)
	if len(s.buffer) >= s.cfg.BufferThreshold && s.conn != nil {
		err := s.flushLocked()
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return nil
}

// Flush forces any buffered audio upstream.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked sends the buffered bytes exactly once, then clears the buffer.
func (s *Stream) flushLocked() error {
	if len(s.buffer) == 0 || s.conn == nil || s.degraded != nil {
		return nil
	}
	out := s.buffer
	s.buffer = nil
	if err := s.conn.WriteMessage(gws.BinaryMessage, out); err != nil {
		return errors.Wrap(ErrProviderDisconnected, err.Error())
	}
	return nil
}

// Close cancels the receive loop, flushes pending audio, releases the
// connection, and resets speaker statistics. Nothing is emitted afterwards.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.conn != nil {
		err = s.flushLocked()
		werr := s.conn.WriteMessage(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, "closing connection"))
		if werr != nil {
			logger.Debug("close handshake failed", "error", werr)
		}
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateClosed
	s.degraded = nil
	s.mu.Unlock()

	s.tracker.Reset()
	return err
}

// State returns the current lifecycle phase.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the stream can accept audio, which includes
// degraded mode: the pipeline stays live either way.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStreaming
}

// Degraded reports whether the placeholder producer is active.
func (s *Stream) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded != nil
}

// SpeakerRole exposes the tracker's current assignment for a speaker.
func (s *Stream) SpeakerRole(speakerID int) Role {
	return s.tracker.Role(speakerID)
}

func (s *Stream) enterDegradedLocked() {
	s.degraded = NewDegradedSource(s.cfg.DegradedInterval)
	s.conn = nil
	s.buffer = nil
	s.state = StateStreaming
}

func (s *Stream) dial(ctx context.Context) (*gws.Conn, error) {
	q := url.Values{}
	q.Set("model", s.cfg.Model)
	q.Set("language", "en")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", s.cfg.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", s.cfg.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", s.cfg.Channels))
	q.Set("endpointing", "2500")
	q.Set("utterance_end_ms", "3000")
	if s.cfg.Diarize {
		q.Set("diarize", "true")
	} else {
		q.Set("diarize", "false")
	}

	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Token "+s.cfg.APIKey)
	}

	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.Endpoint+"?"+q.Encode(), header)
	return conn, err
}

// receiveLoop reads upstream messages until the stream closes. An
// unexpected disconnect triggers the backoff loop; exhausting it degrades
// the stream instead of terminating the session.
func (s *Stream) receiveLoop(ctx context.Context, conn *gws.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}

			logger.Warn("upstream read failed, reconnecting", "error", err)
			next, ok := s.reconnect(ctx)
			if !ok {
				return
			}
			conn = next
			continue
		}

		s.handleMessage(raw)
	}
}

// reconnect retries the dial with exponentially growing delays. The sleep is
// scoped to this stream's goroutine and never blocks other sessions.
func (s *Stream) reconnect(ctx context.Context) (*gws.Conn, bool) {
	delay := s.cfg.BackoffBase

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		s.state = StateReconnectBackoff
		s.conn = nil
		s.mu.Unlock()

		logger.Info("reconnect attempt scheduled",
			"attempt", attempt, "max", s.cfg.MaxReconnectAttempts, "delay", delay)

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}
		delay *= 2

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		s.state = StateConnecting
		s.mu.Unlock()

		conn, err := s.dial(ctx)
		if err != nil {
			logger.Warn("reconnect dial failed",
				"attempt", attempt, "error", errors.Wrap(ErrProviderDisconnected, err.Error()).Error())
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil, false
		}
		s.conn = conn
		s.state = StateStreaming
		s.mu.Unlock()

		logger.Info("reconnected to transcription provider", "attempt", attempt)
		return conn, true
	}

	logger.Error("reconnect attempts exhausted, entering degraded mode")
	s.mu.Lock()
	if !s.closed {
		s.enterDegradedLocked()
	}
	s.mu.Unlock()
	return nil, false
}

// upstreamMessage mirrors the provider's result payload. Metadata and other
// message types carry no transcript and are dropped after a debug log.
type upstreamMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []Word  `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *Stream) handleMessage(raw []byte) {
	var msg upstreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debug("unparseable upstream message", "error", err)
		return
	}

	if len(msg.Channel.Alternatives) == 0 {
		logger.Debug("upstream message without transcript", "type", msg.Type)
		return
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	speakerID := 0
	for _, w := range alt.Words {
		speakerID = w.Speaker
	}

	var start, end float64
	if len(alt.Words) > 0 {
		start = alt.Words[0].Start
		end = alt.Words[len(alt.Words)-1].End
	}

	role := s.tracker.Track(speakerID, alt.Transcript, end-start, len(alt.Words))

	ev := Event{
		Text:       alt.Transcript,
		SpeakerID:  speakerID,
		Role:       role,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		StartTime:  start,
		EndTime:    end,
		Words:      alt.Words,
	}

	s.mu.Lock()
	cb := s.onEvent
	closed := s.closed
	s.mu.Unlock()
	if closed || cb == nil {
		return
	}
	cb(ev)
}
