package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"medihelp/internal/config"
	"medihelp/internal/models"
)

const systemPrompt = `You are MediHelp, an assistant that helps people understand their medical reports and symptoms.
Answer in plain language, explain medical terms, and point out values outside their normal range.
You are not a doctor: do not diagnose, and recommend seeing a healthcare professional when something looks serious.`

const reportPreamble = "The user's confirmed medical report follows. Base your answers on it.\n\n"

const noReportNote = "The user has not provided a medical report yet. If a question depends on one, ask them to upload it."

// ChatService streams chat replies from an eino chat model, optionally
// through a ReAct agent with web search tools.
type ChatService struct {
	model  model.ToolCallingChatModel
	agent  *react.Agent
	logger *zap.Logger
}

// NewChatService builds the chat model named in cfg.Chat. Web search tools
// are attached when basic_config.web_search is set.
func NewChatService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ChatService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	chatModel, err := NewChatModel(ctx, cfg.Chat.Provider, cfg.Provider(cfg.Chat.Provider), cfg.Chat.Model)
	if err != nil {
		return nil, err
	}
	var tools []tool.BaseTool
	if cfg.BasicConfig.WebSearch {
		tools = NewSearchTools(ctx, cfg.Search, logger.Named("search"))
	}
	return newChatService(ctx, chatModel, tools, logger)
}

func newChatService(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.BaseTool, logger *zap.Logger) (*ChatService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ChatService{model: chatModel, logger: logger}
	if len(tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		s.agent = agent
	}
	return s, nil
}

// StreamChat implements worker.ChatStreamer. onChunk receives each new piece
// of the reply, not the accumulated text.
func (s *ChatService) StreamChat(ctx context.Context, messages []models.Message, reportData string, onChunk func(string) error) error {
	input := BuildMessages(messages, reportData)

	var (
		streamReader *schema.StreamReader[*schema.Message]
		err          error
	)
	if s.agent != nil {
		streamReader, err = s.agent.Stream(ctx, input)
	} else {
		streamReader, err = s.model.Stream(ctx, input)
	}
	if err != nil {
		return fmt.Errorf("generate ai stream failed: %w", err)
	}
	defer streamReader.Close()

	for {
		chunk, err := streamReader.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive ai stream: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if err := onChunk(chunk.Content); err != nil {
			return err
		}
	}
}

// BuildMessages prepends the system prompt, including the report, to the
// transcript.
func BuildMessages(messages []models.Message, reportData string) []*schema.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	sys.WriteString("\n\n")
	if strings.TrimSpace(reportData) == "" {
		sys.WriteString(noReportNote)
	} else {
		sys.WriteString(reportPreamble)
		sys.WriteString(reportData)
	}

	out := make([]*schema.Message, 0, len(messages)+1)
	out = append(out, schema.SystemMessage(sys.String()))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		case models.RoleSystem:
			// clients do not get to replace the system prompt
			continue
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
