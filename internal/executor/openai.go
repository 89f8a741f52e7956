package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	apperrors "fundx/internal/errors"
)

const systemPrompt = `You are the portfolio manager of a single fund. Work only on the fund named in the request.
Use the tools to read the portfolio and the trade journal before drawing conclusions.
Start your answer with a line "SUMMARY: <one sentence>". Report actionable items as lines of the form
"BUY: ...", "SELL: ...", "HOLD: ...", "RISK: ...", "WATCH: ...", "CATALYST: ..." or "SIGNAL: ...".`

// maxToolRounds bounds the tool-calling conversation.
const maxToolRounds = 8

// ToolRunner executes tool calls requested by the model.
type ToolRunner interface {
	Definitions() []openai.Tool
	ExecuteTool(ctx context.Context, fundID, name string, args json.RawMessage) (string, error)
}

// OpenAIExecutor runs sessions against the OpenAI chat completions API.
type OpenAIExecutor struct {
	client       *openai.Client
	defaultModel string
	tools        ToolRunner
}

// OpenAIConfig holds configuration for the OpenAI executor.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Tools        ToolRunner
}

// NewOpenAIExecutor creates a new OpenAI executor.
func NewOpenAIExecutor(cfg OpenAIConfig) *OpenAIExecutor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newOpenAIExecutor(openai.NewClientWithConfig(clientCfg), cfg)
}

func newOpenAIExecutor(client *openai.Client, cfg OpenAIConfig) *OpenAIExecutor {
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIExecutor{client: client, defaultModel: model, tools: cfg.Tools}
}

// Run sends the prompt and resolves tool calls until the model answers.
func (e *OpenAIExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := withTimeout(ctx, req)
	defer cancel()

	model := req.Model
	if model == "" {
		model = e.defaultModel
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
	}
	var tools []openai.Tool
	if e.tools != nil {
		tools = e.tools.Definitions()
	}

	for i := 0; i < maxToolRounds; i++ {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, e.fail(ctx, req, fmt.Errorf("openai completion failed: %w", err))
		}
		if len(resp.Choices) == 0 {
			return nil, e.fail(ctx, req, fmt.Errorf("no response from openai"))
		}

		choice := resp.Choices[0]
		if len(choice.Message.ToolCalls) == 0 || e.tools == nil {
			out := choice.Message.Content
			return &Result{Summary: Summarize(out), Output: out}, nil
		}

		messages = append(messages, choice.Message)
		for _, toolCall := range choice.Message.ToolCalls {
			result, err := e.tools.ExecuteTool(ctx, req.FundID, toolCall.Function.Name, json.RawMessage(toolCall.Function.Arguments))
			if err != nil {
				result = fmt.Sprintf("Error executing tool %s: %v", toolCall.Function.Name, err)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: toolCall.ID,
			})
		}
	}

	return nil, e.fail(ctx, req, fmt.Errorf("exceeded maximum tool call iterations"))
}

func (e *OpenAIExecutor) fail(ctx context.Context, req Request, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return apperrors.NewExecutionError(req.FundID, req.Kind, err)
}
