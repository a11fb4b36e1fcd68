package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/tangde15/easyrag/internal/domain"
	"github.com/tangde15/easyrag/internal/openai"
)

const (
	// searchToolName labels the retrieval step in the wire protocol.
	searchToolName = "smart_search"

	recentHistoryTurns  = 30
	relatedHistoryTurns = 10

	answerFailedMessage = "抱歉，回答生成失败，请稍后重试。"
)

// TokenStream yields completion deltas; Recv returns io.EOF when done.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatClient opens a streaming completion for a prepared message list.
type ChatClient interface {
	StreamChat(ctx context.Context, messages []openai.Message) (TokenStream, error)
}

// QueryRouter picks the context source for one question.
type QueryRouter interface {
	Route(ctx context.Context, query string) domain.RouteDecision
}

// MemoryReader is the history the prompt draws on.
type MemoryReader interface {
	Recent(ctx context.Context, sessionID string, k int) ([]domain.ConversationTurn, error)
	Related(ctx context.Context, query, sessionID string, k int) ([]domain.ConversationTurn, error)
}

// ChatService runs one conversational turn: route the question, pull
// session history, stream the model's answer through a Stream.
type ChatService struct {
	router      QueryRouter
	memory      MemoryReader
	chat        ChatClient
	coordinator *StreamCoordinator
}

func NewChatService(router QueryRouter, memory MemoryReader, chat ChatClient, coordinator *StreamCoordinator) *ChatService {
	return &ChatService{
		router:      router,
		memory:      memory,
		chat:        chat,
		coordinator: coordinator,
	}
}

// Ask opens a stream for one user message and starts generation in the
// background. An empty sessionID starts a new session; the effective
// session id is returned. The caller must drain the stream with Run.
func (s *ChatService) Ask(ctx context.Context, sessionID, message string) (*Stream, string) {
	newSession := sessionID == ""
	if newSession {
		sessionID = uuid.NewString()
	}

	stream := s.coordinator.OpenStream(sessionID, newSession, message)
	go s.generate(ctx, stream, sessionID, message)
	return stream, sessionID
}

func (s *ChatService) generate(ctx context.Context, stream *Stream, sessionID, message string) {
	defer stream.End()

	// The retrieval step surfaces as one tool invocation so clients
	// can render progress and sources.
	if err := stream.PushToolStart(searchToolName); err != nil {
		return
	}
	decision := s.router.Route(ctx, message)
	payload, _ := json.Marshal(decision)
	if err := stream.PushToolResult(searchToolName, string(payload)); err != nil {
		return
	}
	if err := stream.PushToolDone(searchToolName); err != nil {
		return
	}

	related, err := s.memory.Related(ctx, message, sessionID, relatedHistoryTurns)
	if err != nil {
		log.Printf("chat: related history lookup failed for session %s: %v", sessionID, err)
	}
	recent, err := s.memory.Recent(ctx, sessionID, recentHistoryTurns)
	if err != nil {
		log.Printf("chat: recent history lookup failed for session %s: %v", sessionID, err)
	}

	messages := buildMessages(decision, related, recent, message)

	tokens, err := s.chat.StreamChat(ctx, messages)
	if err != nil {
		log.Printf("chat: completion failed for session %s: %v", sessionID, err)
		_ = stream.PushDelta(answerFailedMessage)
		return
	}
	defer tokens.Close()

	for {
		delta, err := tokens.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Printf("chat: completion stream broke for session %s: %v", sessionID, err)
			_ = stream.PushDelta(answerFailedMessage)
			return
		}
		if err := stream.PushDelta(delta); err != nil {
			// Consumer is gone, stop generating.
			return
		}
	}
}

// buildMessages composes the system prompt from retrieved context and
// related history, then replays recent turns ahead of the question.
func buildMessages(decision domain.RouteDecision, related, recent []domain.ConversationTurn, message string) []openai.Message {
	var prompt strings.Builder
	prompt.WriteString("你是一个中文知识问答助手。优先依据提供的参考资料回答，资料不足时可以说明。回答使用 Markdown。\n")

	if len(decision.Items) > 0 {
		if decision.Origin == domain.OriginKnowledge {
			prompt.WriteString("\n以下是知识库中检索到的参考资料：\n")
		} else {
			prompt.WriteString("\n以下是网络搜索到的参考资料：\n")
		}
		for i, item := range decision.Items {
			fmt.Fprintf(&prompt, "%d. %s\n%s\n", i+1, item.Source, item.Content)
		}
	}

	if len(related) > 0 {
		prompt.WriteString("\n以下是本会话中可能相关的历史对话：\n")
		for _, t := range related {
			fmt.Fprintf(&prompt, "用户：%s\n助手：%s\n", t.UserMessage, t.AIMessage)
		}
	}

	messages := []openai.Message{{Role: openai.RoleSystem, Content: prompt.String()}}
	for _, t := range recent {
		messages = append(messages,
			openai.Message{Role: openai.RoleUser, Content: t.UserMessage},
			openai.Message{Role: openai.RoleAssistant, Content: t.AIMessage},
		)
	}
	return append(messages, openai.Message{Role: openai.RoleUser, Content: message})
}
