// Package openai adapts github.com/openai/openai-go/v2 to the ctxcore
// llm.ChatDriver contract over the Chat Completions API.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ctxcore/internal/config"
	"ctxcore/internal/llm"
	"ctxcore/internal/observability"
)

// Client implements llm.ChatDriver over OpenAI's Chat Completions API.
type Client struct {
	sdk   sdk.Client
	model string
}

func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: cfg.Model}
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func isEmptyArgsBytes(b json.RawMessage) bool {
	t := strings.TrimSpace(string(b))
	return t == "" || t == "{}" || t == "null"
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, opts llm.Options) (llm.Response, error) {
	log := observability.LoggerWithTrace(ctx)
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(c.pickModel(opts.Model))}
	params.Messages = adaptMessages(msgs)
	if len(opts.Tools) > 0 {
		params.Tools = adaptSchemas(opts.Tools)
	}
	if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = sdk.Float(*opts.TopP)
	}

	ctx, span := llm.StartRequestSpan(ctx, "openai.Chat", string(params.Model), len(opts.Tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("openai_chat_error")
		return llm.Response{}, err
	}

	var out llm.Response
	if len(comp.Choices) > 0 {
		msg := comp.Choices[0].Message
		out.Text = msg.Content
		for _, tc := range msg.ToolCalls {
			if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
				if isEmptyArgsBytes(json.RawMessage(v.Function.Arguments)) {
					log.Warn().Str("tool", v.Function.Name).Str("id", v.ID).Msg("skipping tool call with empty arguments")
					continue
				}
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: v.Function.Name, Args: json.RawMessage(v.Function.Arguments), ID: v.ID})
			}
		}
	}
	out.Usage = llm.Usage{
		PromptTokens:     int(comp.Usage.PromptTokens),
		CompletionTokens: int(comp.Usage.CompletionTokens),
		TotalTokens:      int(comp.Usage.TotalTokens),
	}
	llm.LogRedactedResponse(ctx, comp.Choices)
	llm.RecordTokenAttributes(span, out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Int("total_tokens", out.Usage.TotalTokens).Msg("openai_chat_ok")
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, opts llm.Options, cb llm.StreamCallbacks) (llm.Response, error) {
	log := observability.LoggerWithTrace(ctx)
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(c.pickModel(opts.Model))}
	params.Messages = adaptMessages(msgs)
	if len(opts.Tools) > 0 {
		params.Tools = adaptSchemas(opts.Tools)
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	ctx, span := llm.StartRequestSpan(ctx, "openai.ChatStream", string(params.Model), len(opts.Tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := make(map[int]*llm.ToolCall)
	toolCallsFlushed := false
	var out llm.Response
	var sb strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.JSON.Usage.Valid() && chunk.JSON.Usage.Raw() != "null" {
				out.Usage = llm.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			sb.WriteString(delta.Content)
			if cb.OnToken != nil {
				cb.OnToken(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llm.ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}
		if chunk.Choices[0].FinishReason != "" && !toolCallsFlushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" && !isEmptyArgsBytes(tc.Args) {
					out.ToolCalls = append(out.ToolCalls, *tc)
				}
			}
			toolCallsFlushed = true
		}
	}
	out.Text = sb.String()

	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Msg("openai_stream_error")
		return llm.Response{}, err
	}
	llm.RecordTokenAttributes(span, out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
	log.Debug().Str("model", string(params.Model)).Dur("duration", time.Since(start)).Int("total_tokens", out.Usage.TotalTokens).Msg("openai_stream_ok")
	return out, nil
}
