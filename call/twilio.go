// Package call bridges Twilio programmable-voice media streams into the
// copilot pipeline and originates outbound calls.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/calldeck/copilot/agent"
	"github.com/calldeck/copilot/config"
	"github.com/calldeck/copilot/logger"
	"github.com/calldeck/copilot/protocol"
	"github.com/calldeck/copilot/session"
	"github.com/calldeck/copilot/transcribe"
)

// Originator creates outbound calls and builds the TwiML that points the
// media stream back at this server.
type Originator struct {
	client     *twilio.RestClient
	fromNumber string
	baseURL    string
	baseWSURL  string
}

func NewOriginator(cfg config.Settings) *Originator {
	return &Originator{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		}),
		fromNumber: cfg.TwilioFromNumber,
		baseURL:    cfg.BaseURL,
		baseWSURL:  cfg.BaseWsURL,
	}
}

// Originate places an outbound call and returns the call SID.
func (o *Originator) Originate(to string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(o.fromNumber)
	params.SetUrl(fmt.Sprintf("%stwiml", o.baseURL))
	params.SetMethod("GET")

	resp, err := o.client.Api.CreateCall(params)
	if err != nil {
		return "", errors.Wrap(err, "create call")
	}
	if resp.Sid == nil {
		return "", errors.New("create call returned no SID")
	}
	return *resp.Sid, nil
}

// TwiML returns the response instructing Twilio to stream call media to the
// bridge endpoint.
func (o *Originator) TwiML(callSid string) string {
	return fmt.Sprintf(`
<Response>
  <Connect>
    <Stream url="%sstream?CallSid=%s" bidirectional="true"/>
  </Connect>
</Response>`, o.baseWSURL, callSid)
}

// mediaEvent is Twilio's streaming payload.
type mediaEvent struct {
	Event string `json:"event"` // "start", "media", "stop"
	Media struct {
		Payload string `json:"payload"` // base64 audio
	} `json:"media"`
	Start struct {
		CallSid   string `json:"callSid"`
		StreamSid string `json:"streamSid"`
	} `json:"start"`
}

// MediaConn is the websocket Twilio connects to the bridge with.
type MediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Bridge feeds one Twilio media stream through the transcription and
// suggestion pipeline. Transcripts and suggestions are broadcast to every
// connected copilot client, so the dashboard follows the phone call live.
type Bridge struct {
	mgr    *session.Manager
	stream *transcribe.Stream
	agent  *agent.Agent

	callSid   string
	streamSid string
}

// NewBridge wires a bridge to a fresh stream and agent. The stream should
// be configured for Twilio media (mulaw, 8000 Hz, mono).
func NewBridge(mgr *session.Manager, stream *transcribe.Stream, ag *agent.Agent) *Bridge {
	return &Bridge{mgr: mgr, stream: stream, agent: ag}
}

// Serve reads Twilio events until the stream stops or the socket drops.
func (b *Bridge) Serve(ctx context.Context, ws MediaConn) {
	defer b.cleanup()

	b.stream.SetEventCallback(b.handleTranscript)
	if err := b.stream.Connect(ctx); err != nil {
		logger.Error("bridge stream setup failed", "error", err)
		return
	}

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			logger.Info("media stream closed", "call_sid", b.callSid, "error", err)
			return
		}

		var ev mediaEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			logger.Warn("unparseable media event", "error", err)
			continue
		}

		switch ev.Event {
		case "start":
			b.callSid = ev.Start.CallSid
			b.streamSid = ev.Start.StreamSid
			logger.Info("media stream started",
				"call_sid", b.callSid, "stream_sid", b.streamSid)

		case "media":
			chunk, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				logger.Warn("bad media payload", "error", err)
				continue
			}
			if err := b.stream.SendAudio(chunk); err != nil {
				logger.Error("media forward failed", "error", err)
			}

		case "stop":
			logger.Info("media stream stopped", "call_sid", b.callSid)
			return

		default:
			logger.Debug("unknown media event", "event", ev.Event)
		}
	}
}

func (b *Bridge) handleTranscript(ev transcribe.Event) {
	label := fmt.Sprintf("Speaker %d", ev.SpeakerID)

	b.mgr.Broadcast(protocol.Transcript{
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
	})

	if !ev.IsFinal {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suggestion := b.agent.ProcessUtterance(ctx, ev.Text, label, ev.IsFinal)
	if suggestion == nil {
		return
	}

	b.mgr.Broadcast(protocol.Suggestion{
		Type:         "suggestion",
		Question:     ev.Text,
		Response:     suggestion.Text,
		Confidence:   suggestion.Confidence,
		QuestionType: suggestion.Kind.String(),
		Source:       suggestion.Source,
		Timestamp:    suggestion.Timestamp.Format(time.RFC3339Nano),
	})
}

func (b *Bridge) cleanup() {
	if err := b.stream.Close(); err != nil {
		logger.Error("bridge stream close failed", "call_sid", b.callSid, "error", err)
	}
	b.agent.ClearSession()
}
