// Package google adapts google.golang.org/genai to the ctxcore
// llm.ChatDriver contract over the Gemini GenerateContent API.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"ctxcore/internal/config"
	"ctxcore/internal/llm"
	"ctxcore/internal/observability"
)

// Client implements llm.ChatDriver over the Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

func New(cfg config.GoogleConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, opts llm.Options) (llm.Response, error) {
	model := c.pickModel(opts.Model)
	ctx, span := llm.StartRequestSpan(ctx, "google.Chat", model, len(opts.Tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	contents, err := toContents(msgs)
	if err != nil {
		span.RecordError(err)
		return llm.Response{}, err
	}
	toolDecls, toolCfg, err := adaptTools(opts.Tools)
	if err != nil {
		span.RecordError(err)
		return llm.Response{}, err
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, buildContentConfig(model, toolDecls, toolCfg, opts))
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("google_chat_error")
		return llm.Response{}, err
	}

	out, err := responseFromReply(resp)
	if err != nil {
		span.RecordError(err)
		return llm.Response{}, err
	}
	llm.LogRedactedResponse(ctx, resp)
	log.Debug().Str("model", model).Dur("duration", dur).Int("tool_calls", len(out.ToolCalls)).Msg("google_chat_ok")
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, opts llm.Options, cb llm.StreamCallbacks) (llm.Response, error) {
	model := c.pickModel(opts.Model)
	ctx, span := llm.StartRequestSpan(ctx, "google.ChatStream", model, len(opts.Tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	contents, err := toContents(msgs)
	if err != nil {
		span.RecordError(err)
		return llm.Response{}, err
	}
	toolDecls, toolCfg, err := adaptTools(opts.Tools)
	if err != nil {
		span.RecordError(err)
		return llm.Response{}, err
	}

	start := time.Now()
	stream := c.client.Models.GenerateContentStream(ctx, model, contents, buildContentConfig(model, toolDecls, toolCfg, opts))

	var out llm.Response
	var sb strings.Builder
	for resp, err := range stream {
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("google_stream_error")
			return llm.Response{}, err
		}
		chunk, summary, skip, err := chunkFromReply(resp)
		if err != nil {
			span.RecordError(err)
			return llm.Response{}, err
		}
		if summary != "" && cb.OnReasoningToken != nil {
			cb.OnReasoningToken(summary)
		}
		if skip {
			continue
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if cb.OnToken != nil {
				cb.OnToken(chunk.Text)
			}
		}
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
	}
	out.Text = sb.String()
	log.Debug().Str("model", model).Dur("duration", time.Since(start)).Int("tool_calls", len(out.ToolCalls)).Msg("google_stream_ok")
	return out, nil
}

func buildContentConfig(model string, tools []*genai.Tool, toolCfg *genai.ToolConfig, opts llm.Options) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{Tools: tools, ToolConfig: toolCfg}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		cfg.Temperature = &t
	}
	if opts.TopP != nil {
		p := float32(*opts.TopP)
		cfg.TopP = &p
	}
	if opts.ThinkingBudget != nil && *opts.ThinkingBudget > 0 && supportsThinking(model) {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return cfg
}

func supportsThinking(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if idx := strings.LastIndex(m, "/"); idx != -1 {
		m = m[idx+1:]
	}
	return strings.Contains(m, "gemini-2.5") || strings.Contains(m, "gemini-3")
}

func toContents(msgs []llm.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("google: messages required")
	}
	toolNamesByID := make(map[string]string)
	var lastFuncName string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "", "user", "system", "memory":
			role = genai.RoleUser
		case "assistant":
			role = genai.RoleModel
			for _, tc := range m.ToolCalls {
				if tc.ID != "" && tc.Name != "" {
					toolNamesByID[tc.ID] = tc.Name
				}
				if strings.TrimSpace(tc.Name) != "" {
					lastFuncName = tc.Name
				}
			}
		case "tool":
			name := toolNamesByID[m.ToolCallID]
			if name == "" {
				name = lastFuncName
				if name == "" {
					name = "tool_response"
				}
			}
			respMap := map[string]any{}
			if trimmed := strings.TrimSpace(m.Content); trimmed != "" {
				if err := json.Unmarshal([]byte(trimmed), &respMap); err != nil {
					respMap = map[string]any{"output": m.Content}
				}
			}
			part := genai.NewPartFromFunctionResponse(name, respMap)
			part.FunctionResponse.ID = m.ToolCallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			continue
		default:
			return nil, fmt.Errorf("google: unsupported role %q", m.Role)
		}
		text := m.Content
		if role == genai.RoleUser && strings.ToLower(strings.TrimSpace(m.Role)) == "system" {
			text = "[system] " + text
		}
		var parts []*genai.Part
		if strings.TrimSpace(text) != "" {
			parts = append(parts, &genai.Part{Text: text})
		}
		if role == genai.RoleModel {
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Args) > 0 {
					_ = json.Unmarshal(tc.Args, &args)
				}
				if len(args) == 0 && len(tc.Args) > 0 {
					args = map[string]any{"input": string(tc.Args)}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func adaptTools(schemas []llm.ToolSchema) ([]*genai.Tool, *genai.ToolConfig, error) {
	if len(schemas) == 0 {
		return nil, nil, nil
	}
	fd := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		if strings.TrimSpace(s.Name) == "" {
			return nil, nil, fmt.Errorf("google: tool name required")
		}
		fd = append(fd, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: s.Parameters,
		})
	}
	cfg := &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
	}
	return []*genai.Tool{{FunctionDeclarations: fd}}, cfg, nil
}

func responseFromReply(resp *genai.GenerateContentResponse) (llm.Response, error) {
	if resp == nil {
		return llm.Response{}, fmt.Errorf("google: nil response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.Response{}, fmt.Errorf("google: request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return llm.Response{}, fmt.Errorf("google: no candidates in response")
	}
	candidate := resp.Candidates[0]
	if err := checkFinishReason(candidate.FinishReason); err != nil {
		return llm.Response{}, err
	}
	if candidate.Content == nil {
		return llm.Response{}, nil
	}
	sb, tcs := partsToOutput(candidate.Content.Parts, false)
	return llm.Response{Text: sb, ToolCalls: tcs}, nil
}

func chunkFromReply(resp *genai.GenerateContentResponse) (llm.Response, string, bool, error) {
	if resp == nil {
		return llm.Response{}, "", true, nil
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.Response{}, "", false, fmt.Errorf("google: request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return llm.Response{}, "", true, nil
	}
	candidate := resp.Candidates[0]
	if err := checkFinishReason(candidate.FinishReason); err != nil {
		return llm.Response{}, "", false, err
	}
	if candidate.Content == nil {
		return llm.Response{}, "", true, nil
	}
	text, tcs := partsToOutput(candidate.Content.Parts, false)
	summary, _ := partsToOutput(candidate.Content.Parts, true)
	if text == "" && len(tcs) == 0 {
		return llm.Response{}, summary, true, nil
	}
	return llm.Response{Text: text, ToolCalls: tcs}, summary, false, nil
}

func checkFinishReason(reason genai.FinishReason) error {
	switch reason {
	case genai.FinishReasonSafety:
		return fmt.Errorf("google: response blocked by safety filters")
	case genai.FinishReasonRecitation:
		return fmt.Errorf("google: response blocked due to recitation")
	case genai.FinishReasonMalformedFunctionCall:
		return fmt.Errorf("google: malformed function call generated by model")
	}
	return nil
}

// partsToOutput extracts either the thought-summary text (thoughtsOnly) or
// the regular text + function calls from a candidate's parts.
func partsToOutput(parts []*genai.Part, thoughtsOnly bool) (string, []llm.ToolCall) {
	var sb strings.Builder
	var tcs []llm.ToolCall
	callIdx := 0
	for _, part := range parts {
		if part == nil {
			continue
		}
		if part.Thought {
			if thoughtsOnly && part.Text != "" {
				sb.WriteString(part.Text)
			}
			continue
		}
		if thoughtsOnly {
			continue
		}
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			callIdx++
			id := part.FunctionCall.ID
			if strings.TrimSpace(id) == "" {
				id = "call-" + strconv.Itoa(callIdx)
			}
			var sig string
			if len(part.ThoughtSignature) > 0 {
				sig = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
			}
			meta := map[string]any{}
			if sig != "" {
				meta["thought_signature"] = sig
			}
			tcs = append(tcs, llm.ToolCall{Name: part.FunctionCall.Name, Args: args, ID: id})
			_ = meta // thought signatures are collected here but not carried into llm.ToolCall
		}
	}
	return sb.String(), tcs
}
