package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangde15/easyrag/internal/domain"
)

type capturingRecorder struct {
	mu    sync.Mutex
	turns []*domain.ConversationTurn
}

func (r *capturingRecorder) Add(ctx context.Context, turn *domain.ConversationTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
	return nil
}

func (r *capturingRecorder) recorded() []*domain.ConversationTurn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.ConversationTurn(nil), r.turns...)
}

// runStream drives a producer function against a consuming Run and
// returns the emitted wire lines.
func runStream(t *testing.T, stream *Stream, produce func(*Stream)) []string {
	t.Helper()

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(context.Background(), &buf)
	}()

	produce(stream)
	stream.End()

	require.NoError(t, <-done)
	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestStream_WireProtocolLines(t *testing.T) {
	recorder := &capturingRecorder{}
	coordinator := NewStreamCoordinator(recorder)
	stream := coordinator.OpenStream("sess-1", true, "什么是 goroutine")

	lines := runStream(t, stream, func(s *Stream) {
		require.NoError(t, s.PushToolStart("smart_search"))
		require.NoError(t, s.PushToolResult("smart_search", `{"source":"web","items":[{"title":"甲","link":"https://a.test/1"}]}`))
		require.NoError(t, s.PushToolDone("smart_search"))
		require.NoError(t, s.PushDelta("goroutine 是"))
		require.NoError(t, s.PushDelta("轻量级线程。"))
	})

	require.Len(t, lines, 7)
	assert.Equal(t, `{"type":"session","content":"sess-1"}`, lines[0])
	assert.Equal(t, `{"type":"tool_start","tool_name":"smart_search"}`, lines[1])
	assert.Equal(t, `{"type":"tool","content":"{\"source\":\"web\",\"items\":[{\"title\":\"甲\",\"link\":\"https://a.test/1\"}]}","tool_name":"smart_search"}`, lines[2])
	assert.Equal(t, `{"type":"tool_done","tool_name":"smart_search"}`, lines[3])
	assert.Equal(t, `{"type":"ai","content":"goroutine 是"}`, lines[4])
	assert.Equal(t, `{"type":"ai","content":"轻量级线程。"}`, lines[5])
	assert.Equal(t, `{"type":"ai_final","intent_declaration":"","search_summary":{"smart_search":1},"sections":[],"references":[{"title":"甲","url":"https://a.test/1"}]}`, lines[6])
}

func TestStream_NoSessionLineForExistingSession(t *testing.T) {
	coordinator := NewStreamCoordinator(&capturingRecorder{})
	stream := coordinator.OpenStream("sess-1", false, "q")

	lines := runStream(t, stream, func(s *Stream) {
		require.NoError(t, s.PushDelta("answer"))
	})

	require.Len(t, lines, 2)
	assert.Equal(t, `{"type":"ai","content":"answer"}`, lines[0])
	assert.Contains(t, lines[1], `"type":"ai_final"`)
}

func TestStream_EmptyStreamStillEmitsFinal(t *testing.T) {
	coordinator := NewStreamCoordinator(&capturingRecorder{})
	stream := coordinator.OpenStream("sess-1", false, "q")

	lines := runStream(t, stream, func(s *Stream) {})

	require.Len(t, lines, 1)
	assert.Equal(t, `{"type":"ai_final","intent_declaration":"","search_summary":{},"sections":[],"references":[]}`, lines[0])
}

func TestStream_PersistsTurnAtEnd(t *testing.T) {
	recorder := &capturingRecorder{}
	coordinator := NewStreamCoordinator(recorder)
	stream := coordinator.OpenStream("sess-9", false, "my question")

	runStream(t, stream, func(s *Stream) {
		require.NoError(t, s.PushDelta("part one "))
		require.NoError(t, s.PushDelta("part two"))
	})

	turns := recorder.recorded()
	require.Len(t, turns, 1)
	assert.Equal(t, "sess-9", turns[0].SessionID)
	assert.Equal(t, "my question", turns[0].UserMessage)
	assert.Equal(t, "part one part two", turns[0].AIMessage)
}

func TestStream_ReferenceDedupFirstWins(t *testing.T) {
	coordinator := NewStreamCoordinator(&capturingRecorder{})
	stream := coordinator.OpenStream("s", false, "q")

	lines := runStream(t, stream, func(s *Stream) {
		require.NoError(t, s.PushToolStart("search_internet"))
		require.NoError(t, s.PushToolResult("search_internet",
			`{"items":[{"title":"first title","link":"https://x.test/a"}]}`))
		require.NoError(t, s.PushToolDone("search_internet"))
		require.NoError(t, s.PushToolStart("search_internet"))
		require.NoError(t, s.PushToolResult("search_internet",
			`{"items":[{"title":"second title","link":"https://x.test/a"},{"title":"other","link":"https://x.test/b"}]}`))
		require.NoError(t, s.PushToolDone("search_internet"))
	})

	final := lines[len(lines)-1]
	assert.Contains(t, final, `"search_summary":{"search_internet":2}`)
	assert.Contains(t, final, `{"title":"first title","url":"https://x.test/a"}`)
	assert.NotContains(t, final, "second title")
	assert.Contains(t, final, `"url":"https://x.test/b"`)
}

func TestStream_RawPayloadForwardedVerbatimAndScrapedForURLs(t *testing.T) {
	coordinator := NewStreamCoordinator(&capturingRecorder{})
	stream := coordinator.OpenStream("s", false, "q")

	raw := "not json at all, see https://ref.test/page for details"
	lines := runStream(t, stream, func(s *Stream) {
		require.NoError(t, s.PushToolStart("scratch"))
		require.NoError(t, s.PushToolResult("scratch", raw))
		require.NoError(t, s.PushToolDone("scratch"))
	})

	assert.Equal(t, `{"type":"tool","content":"`+raw+`","tool_name":"scratch"}`, lines[1])
	assert.Contains(t, lines[len(lines)-1], `{"title":"https://ref.test/page","url":"https://ref.test/page"}`)
}

func TestStream_CancellationStopsProducerAndSkipsPersist(t *testing.T) {
	recorder := &capturingRecorder{}
	coordinator := NewStreamCoordinator(recorder)
	stream := coordinator.OpenStream("s", false, "q")

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, &buf)
	}()

	require.NoError(t, stream.PushDelta("partial "))
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// The producer sees the closed stream and stops.
	require.Eventually(t, func() bool {
		return stream.PushDelta("more") == ErrStreamClosed
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, recorder.recorded())
}
