// Streaming completion relay - forwards chat turns to the configured
// endpoint and streams partial tokens back

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mxchat/mxgate/pkg/config"
)

// Fixed sampling configuration for relay calls.
const (
	relayMaxTokens   = 4000
	relayTemperature = 0.7
	relayTopP        = 0.7
)

// Delta is one incremental chunk from the upstream stream. Reasoning
// carries the secondary reasoning_content field verbatim, defaulting to
// the empty string when the endpoint does not produce one.
type Delta struct {
	Text      string
	Reasoning string
}

// EventRecorder receives noteworthy gateway events. Satisfied by
// *storage.Storage; may be nil.
type EventRecorder interface {
	RecordEvent(kind, session, detail string) error
}

// Relay issues streaming requests against the active profile. Each call
// builds its own upstream client from a profile snapshot, so an
// in-flight relay completes against the profile it started with and
// concurrent relays never interleave reads.
type Relay struct {
	profiles *config.Store
	history  *History
	registry *SessionRegistry
	events   EventRecorder

	sender         string
	connectTimeout time.Duration
	readTimeout    time.Duration

	inFlight atomic.Int32
}

func NewRelay(profiles *config.Store, history *History, registry *SessionRegistry, cfg *config.GatewayConfig) *Relay {
	return &Relay{
		profiles:       profiles,
		history:        history,
		registry:       registry,
		sender:         cfg.Sender,
		connectTimeout: cfg.UpstreamConnectTimeout,
		readTimeout:    cfg.UpstreamReadTimeout,
	}
}

// SetEventRecorder wires the optional event log.
func (r *Relay) SetEventRecorder(e EventRecorder) { r.events = e }

// Active returns the number of relay calls currently in flight.
func (r *Relay) Active() int {
	return int(r.inFlight.Load())
}

// Relay forwards one chat turn for clientID and delivers all results to
// sessionID asynchronously. Fire-and-forget: errors surface as a single
// error frame on the session, never as a return value. Runs on its own
// goroutine, so a panic here is recovered locally; the dispatcher's
// recover cannot reach it.
func (r *Relay) Relay(clientID, sessionID string, msg *ChatMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Relay] Panic for %s: %v", clientID, rec)
			_ = r.registry.SendTo(sessionID, Frame{Type: FrameChatMessage, Data: ChatData{
				Error:  "internal error during relay",
				IsUser: false,
				Sender: r.sender,
				Mode:   msg.Mode,
			}})
		}
	}()

	emit := func(d Delta) error {
		frame := Frame{Type: FrameChatMessage, Data: ChatData{
			Text:             d.Text,
			ReasoningContent: d.Reasoning,
			IsUser:           false,
			Sender:           r.sender,
			Mode:             msg.Mode,
			Format:           "markdown",
		}}
		return r.registry.SendTo(sessionID, frame)
	}

	if err := r.Stream(context.Background(), clientID, msg, emit); err != nil {
		var re *RelayError
		if !errors.As(err, &re) {
			re = relayErr(ErrClassProtocol, err)
		}
		log.Printf("[Relay] %s: %v", clientID, err)
		if r.events != nil {
			_ = r.events.RecordEvent("relay_error", sessionID, re.Error())
		}
		_ = r.registry.SendTo(sessionID, Frame{Type: FrameChatMessage, Data: ChatData{
			Error:  re.Message(),
			IsUser: false,
			Sender: r.sender,
			Mode:   msg.Mode,
		}})
	}
}

// Stream runs the relay algorithm, invoking emit for every incremental
// delta in upstream order. On success the accumulated assistant text is
// appended to the client's history; on any failure partial text is
// discarded and a classified RelayError is returned.
func (r *Relay) Stream(ctx context.Context, clientID string, msg *ChatMessage, emit func(Delta) error) error {
	prof := r.profiles.Active()
	if prof.URL == "" || prof.APIKey == "" {
		return relayErr(ErrClassConfigMissing, fmt.Errorf("no active profile with url and api_key"))
	}

	window := r.history.Append(clientID, openai.ChatMessageRoleUser, msg.Text)
	messages := buildMessages(window, msg.ImageData)

	log.Printf("[Relay] client=%s model=%s turns=%d tokens~%d", clientID, prof.Model, len(window), r.history.Tokens(clientID))

	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	cc := openai.DefaultConfig(prof.APIKey)
	cc.BaseURL = prof.URL
	client := openai.NewClientWithConfig(cc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watchdog bounds connection establishment and then each read;
	// firing cancels the request context.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(r.connectTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       prof.Model,
		Messages:    messages,
		MaxTokens:   relayMaxTokens,
		Temperature: relayTemperature,
		TopP:        relayTopP,
		Stream:      true,
	})
	if err != nil {
		return classifyStreamErr(err, &timedOut, true)
	}
	defer stream.Close()

	var assistant strings.Builder
	for {
		watchdog.Reset(r.readTimeout)
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classifyStreamErr(err, &timedOut, false)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			assistant.WriteString(delta.Content)
		}
		if delta.Content != "" || delta.ReasoningContent != "" {
			if err := emit(Delta{Text: delta.Content, Reasoning: delta.ReasoningContent}); err != nil {
				// Receiver is gone; stop streaming, do not persist partial text
				return fmt.Errorf("deliver chunk: %w", err)
			}
		}
	}
	watchdog.Stop()

	if assistant.Len() > 0 {
		r.history.Append(clientID, openai.ChatMessageRoleAssistant, assistant.String())
	}
	return nil
}

// buildMessages converts the history window into upstream messages. When
// the newest user turn carries image data, that turn is sent as a
// multi-part message with a data-URI image part.
func buildMessages(window []Turn, imageData string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(window))
	for i, t := range window {
		m := openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
		if imageData != "" && i == len(window)-1 && t.Role == openai.ChatMessageRoleUser {
			m.Content = ""
			m.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: t.Content},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL: "data:image/png;base64," + imageData,
				}},
			}
		}
		messages = append(messages, m)
	}
	return messages
}

// classifyStreamErr maps an upstream failure onto the error taxonomy.
// connecting distinguishes establishment failures (endpoint unreachable)
// from mid-stream failures (broken stream shape).
func classifyStreamErr(err error, timedOut *atomic.Bool, connecting bool) *RelayError {
	if timedOut.Load() || errors.Is(err, context.DeadlineExceeded) {
		return relayErr(ErrClassTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return relayErr(ErrClassProtocol, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return relayErr(ErrClassProtocol, err)
	}

	if connecting {
		return relayErr(ErrClassConnect, err)
	}
	return relayErr(ErrClassProtocol, err)
}
