// Package agent holds the suggestion decision loop: it watches finalized
// utterances, grounds them with retrieved knowledge, and asks the
// generative backend whether the consultant should be nudged.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/calldeck/copilot/logger"
	"github.com/calldeck/copilot/queue"
	"github.com/calldeck/copilot/rag"
)

// NoSuggestionSentinel is the exact reply the backend is instructed to
// return when it has nothing useful to add.
const NoSuggestionSentinel = "NO_SUGGESTION"

const (
	defaultHistoryCap  = 20
	defaultCooldown    = 5 * time.Second
	minSystemPromptLen = 50
	maxSystemPromptLen = 20000
	minUtteranceWords  = 2
)

// DefaultSystemPrompt steers the backend toward short, actionable nudges
// for the consultant on the call.
const DefaultSystemPrompt = "You are a real-time copilot for a sales consultant on a live call. " +
	"Given the recent conversation, reply with one short, concrete piece of advice " +
	"the consultant can act on immediately: an answer to the customer's question, " +
	"a question worth asking, or a way to handle an objection. " +
	"If there is nothing genuinely useful to add, reply with exactly " + NoSuggestionSentinel + "."

// ConversationTurn is one utterance in the bounded history ring.
type ConversationTurn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Suggestion is the agent's output, immutable once created.
type Suggestion struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Kind       Kind      `json:"kind"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// ContextRetriever narrows the retriever to what the agent needs.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) (rag.RetrievalResult, error)
}

// Option customizes an Agent.
type Option func(*Agent)

func WithHistoryCap(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.history = queue.NewBounded[ConversationTurn](n)
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.cooldown = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// Agent runs the per-call suggestion loop. One Agent per session; all
// methods are safe for concurrent use.
type Agent struct {
	gen       Generator
	retriever ContextRetriever

	mu           sync.Mutex
	history      *queue.Queue[ConversationTurn]
	systemPrompt string
	cooldown     time.Duration
	lastEmitted  time.Time
	now          func() time.Time
}

// New builds an agent. retriever may be nil when no knowledge base is
// configured; suggestions then run ungrounded.
func New(gen Generator, retriever ContextRetriever, opts ...Option) *Agent {
	a := &Agent{
		gen:          gen,
		retriever:    retriever,
		history:      queue.NewBounded[ConversationTurn](defaultHistoryCap),
		systemPrompt: DefaultSystemPrompt,
		cooldown:     defaultCooldown,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetSystemPrompt validates and installs a new prompt. Too-short input
// keeps the previous prompt; overlong input is truncated rather than
// rejected.
func (a *Agent) SetSystemPrompt(text string) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minSystemPromptLen {
		logger.Warn("rejecting system prompt, too short", "length", len(trimmed))
		return
	}
	if len(trimmed) > maxSystemPromptLen {
		logger.Warn("truncating overlong system prompt", "length", len(trimmed))
		cut := maxSystemPromptLen
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut]
	}

	a.mu.Lock()
	a.systemPrompt = trimmed
	a.mu.Unlock()
}

// SystemPrompt returns the active prompt.
func (a *Agent) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.systemPrompt
}

// ClearSession empties the history and cooldown state. The configured
// prompt survives.
func (a *Agent) ClearSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Clear()
	a.lastEmitted = time.Time{}
}

// History returns a snapshot of the conversation ring.
func (a *Agent) History() []ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Items()
}

// ProcessUtterance feeds one transcript into the decision loop. It returns
// a Suggestion when the backend has something substantive to add, nil when
// the utterance is skipped, the cooldown is active, the backend declines
// via the sentinel, or the backend fails. Backend failures never propagate.
func (a *Agent) ProcessUtterance(ctx context.Context, text, speaker string, isFinal bool) *Suggestion {
	trimmed := strings.TrimSpace(text)
	if !isFinal || len(strings.Fields(trimmed)) < minUtteranceWords {
		return nil
	}

	a.mu.Lock()
	a.history.Enqueue(ConversationTurn{
		Speaker:   speaker,
		Text:      trimmed,
		Timestamp: a.now().UTC(),
	})

	if !a.lastEmitted.IsZero() && a.now().Sub(a.lastEmitted) < a.cooldown {
		a.mu.Unlock()
		logger.Debug("suggestion suppressed by cooldown", "speaker", speaker)
		return nil
	}

	turns := a.history.Items()
	system := a.systemPrompt
	a.mu.Unlock()

	source := "model"
	if a.retriever != nil {
		result, err := a.retriever.Retrieve(ctx, trimmed)
		if err != nil {
			logger.Warn("retrieval failed, generating without context", "error", err)
		} else if result.HasRelevantContent {
			system += "\n\nRelevant knowledge base material:\n" + result.ContextText
			source = "model+knowledge_base"
		}
	}

	reply, err := a.gen.Generate(ctx, system, turns)
	if err != nil {
		logger.Warn("generation failed, no suggestion", "error", err)
		return nil
	}

	cleaned := strings.Trim(strings.TrimSpace(reply), "\"'` ")
	if cleaned == "" || strings.EqualFold(cleaned, NoSuggestionSentinel) {
		logger.Debug("backend declined to suggest", "speaker", speaker)
		return nil
	}

	a.mu.Lock()
	a.lastEmitted = a.now()
	a.mu.Unlock()

	return &Suggestion{
		Text:       cleaned,
		Confidence: scoreConfidence(cleaned),
		Kind:       classifyKind(cleaned),
		Source:     source,
		Timestamp:  a.now().UTC(),
	}
}
