package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tangde15/easyrag/internal/domain"
)

// eventBufferSize bounds the stream event channel. Producers block
// once the consumer falls this far behind.
const eventBufferSize = 64

// persistTimeout bounds the turn write that follows a finished stream.
const persistTimeout = 10 * time.Second

// ErrStreamClosed is returned by push methods after the consumer has
// stopped draining. Producers must treat it as a stop signal.
var ErrStreamClosed = errors.New("stream closed")

// TurnRecorder persists a completed conversation turn.
type TurnRecorder interface {
	Add(ctx context.Context, turn *domain.ConversationTurn) error
}

// StreamCoordinator opens per-request streams that merge answer deltas
// and tool events into the newline-delimited JSON wire protocol.
type StreamCoordinator struct {
	memory TurnRecorder
}

func NewStreamCoordinator(memory TurnRecorder) *StreamCoordinator {
	return &StreamCoordinator{memory: memory}
}

// OpenStream starts a stream for one user message. newSession controls
// whether the session announcement line is emitted first.
func (c *StreamCoordinator) OpenStream(sessionID string, newSession bool, userMessage string) *Stream {
	return &Stream{
		memory:      c.memory,
		sessionID:   sessionID,
		newSession:  newSession,
		userMessage: userMessage,
		events:      make(chan streamEvent, eventBufferSize),
		done:        make(chan struct{}),
	}
}

type streamEventKind int

const (
	kindDelta streamEventKind = iota
	kindToolStart
	kindToolResult
	kindToolDone
)

type streamEvent struct {
	kind streamEventKind
	text string
	tool string
}

// Stream is one in-flight response. Producers push events through the
// Push methods and call End when generation finishes; the consumer
// drains everything with Run. Both sides may run on any goroutine, but
// each side is single-threaded.
type Stream struct {
	memory      TurnRecorder
	sessionID   string
	newSession  bool
	userMessage string

	events  chan streamEvent
	done    chan struct{}
	endOnce sync.Once
}

// PushDelta forwards one increment of answer text.
func (s *Stream) PushDelta(text string) error {
	if text == "" {
		return nil
	}
	return s.push(streamEvent{kind: kindDelta, text: text})
}

// PushToolStart announces a tool invocation.
func (s *Stream) PushToolStart(toolName string) error {
	return s.push(streamEvent{kind: kindToolStart, tool: toolName})
}

// PushToolResult forwards a tool's raw result payload.
func (s *Stream) PushToolResult(toolName, payload string) error {
	return s.push(streamEvent{kind: kindToolResult, tool: toolName, text: payload})
}

// PushToolDone marks a tool invocation finished.
func (s *Stream) PushToolDone(toolName string) error {
	return s.push(streamEvent{kind: kindToolDone, tool: toolName})
}

// End signals that generation is complete. Safe to call more than once.
func (s *Stream) End() {
	s.endOnce.Do(func() { close(s.events) })
}

func (s *Stream) push(e streamEvent) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	case s.events <- e:
		return nil
	}
}

// Wire protocol line shapes. Field order is part of the contract.
type textLine struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type toolMarkLine struct {
	Type     string `json:"type"`
	ToolName string `json:"tool_name"`
}

type toolResultLine struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name"`
}

type finalLine struct {
	Type              string                 `json:"type"`
	IntentDeclaration string                 `json:"intent_declaration"`
	SearchSummary     map[string]int         `json:"search_summary"`
	Sections          []string               `json:"sections"`
	References        []domain.ReferenceItem `json:"references"`
}

// Run drains the stream into w, one JSON object per line, until the
// producer calls End or ctx is cancelled. On normal completion it
// emits the terminal summary line and persists the turn. On
// cancellation the partial answer is discarded, not persisted: a turn
// the client never saw completed should not shape future retrieval.
func (s *Stream) Run(ctx context.Context, w io.Writer) error {
	defer close(s.done)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	flusher, _ := w.(http.Flusher)

	write := func(v any) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if s.newSession {
		if err := write(textLine{Type: "session", Content: s.sessionID}); err != nil {
			return err
		}
	}

	var answer strings.Builder
	toolCounts := make(map[string]int)
	var payloads []domain.ToolPayload

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-s.events:
			if !ok {
				return s.finalize(ctx, write, answer.String(), toolCounts, payloads)
			}

			var err error
			switch e.kind {
			case kindDelta:
				answer.WriteString(e.text)
				err = write(textLine{Type: "ai", Content: e.text})
			case kindToolStart:
				toolCounts[e.tool]++
				err = write(toolMarkLine{Type: "tool_start", ToolName: e.tool})
			case kindToolResult:
				payloads = append(payloads, domain.ParseToolPayload(e.text))
				err = write(toolResultLine{Type: "tool", Content: e.text, ToolName: e.tool})
			case kindToolDone:
				err = write(toolMarkLine{Type: "tool_done", ToolName: e.tool})
			}
			if err != nil {
				return err
			}
		}
	}
}

func (s *Stream) finalize(ctx context.Context, write func(any) error, answer string, toolCounts map[string]int, payloads []domain.ToolPayload) error {
	references := collectStreamReferences(payloads)

	if err := write(finalLine{
		Type:              "ai_final",
		IntentDeclaration: "",
		SearchSummary:     toolCounts,
		Sections:          []string{},
		References:        references,
	}); err != nil {
		return err
	}

	// The client may drop the connection the moment the final line
	// lands; the turn still gets persisted.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.memory.Add(persistCtx, &domain.ConversationTurn{
		SessionID:   s.sessionID,
		UserMessage: s.userMessage,
		AIMessage:   answer,
	}); err != nil {
		log.Printf("stream: failed to persist turn for session %s: %v", s.sessionID, err)
	}
	return nil
}

// collectStreamReferences merges every payload's reference candidates,
// keeping the first occurrence per unique URL.
func collectStreamReferences(payloads []domain.ToolPayload) []domain.ReferenceItem {
	references := make([]domain.ReferenceItem, 0)
	seen := make(map[string]struct{})
	for _, p := range payloads {
		for _, ref := range p.References() {
			if ref.URL == "" {
				continue
			}
			if _, ok := seen[ref.URL]; ok {
				continue
			}
			seen[ref.URL] = struct{}{}
			references = append(references, ref)
		}
	}
	return references
}
