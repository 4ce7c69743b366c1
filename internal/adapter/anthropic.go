// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/isboyjc/amux/internal/apischema/anthropic"
	"github.com/isboyjc/amux/internal/ir"
)

// anthropicVersion is the required anthropic-version header value.
// https://docs.claude.com/en/api/versioning
const anthropicVersion = "2023-06-01"

// defaultMaxTokens is used when an IR request carries no limit; the
// Messages API requires max_tokens.
const defaultMaxTokens = 4096

func init() {
	register(anthropicAdapter{})
}

// anthropicAdapter implements the Anthropic Messages dialect.
type anthropicAdapter struct{}

func (anthropicAdapter) Name() string    { return NameAnthropic }
func (anthropicAdapter) Version() string { return anthropicVersion }

func (anthropicAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming: true, Tools: true, Vision: true, Multimodal: true,
		SystemPrompt: true, ToolChoice: true, Reasoning: true,
		WebSearch: true,
	}
}

func (anthropicAdapter) DefaultBaseURL() string    { return "https://api.anthropic.com" }
func (anthropicAdapter) DefaultChatPath() string   { return "/v1/messages" }
func (anthropicAdapter) DefaultModelsPath() string { return "/v1/models" }

func (a anthropicAdapter) ChatPath(pathOverride, _ string, _ bool) string {
	if pathOverride != "" {
		return pathOverride
	}
	return a.DefaultChatPath()
}

func (anthropicAdapter) ApplyAuth(h http.Header, key string) {
	h.Set("x-api-key", key)
	h.Set("anthropic-version", anthropicVersion)
}

func (anthropicAdapter) Framing() Framing {
	return Framing{EventPrefixed: true, DoneTerminator: false}
}

func (a anthropicAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("invalid anthropic request: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("invalid anthropic request: missing model")
	}

	out := &ir.Request{
		Model:  req.Model,
		System: req.System.Joined(),
		Stream: req.Stream,
		Raw:    wire,
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		m := ir.Message{Role: ir.Role(msg.Role)}
		if msg.Content.Blocks == nil {
			if msg.Content.Text != "" {
				m.Content = []ir.ContentPart{ir.TextPart(msg.Content.Text)}
			}
		} else {
			for _, b := range msg.Content.Blocks {
				switch b.Type {
				case anthropic.ContentBlockTypeText:
					m.Content = append(m.Content, ir.TextPart(b.Text))
				case anthropic.ContentBlockTypeThinking:
					m.ReasoningContent = appendSystem(m.ReasoningContent, b.Thinking)
				case anthropic.ContentBlockTypeImage:
					if b.Source == nil {
						continue
					}
					ref := &ir.MediaRef{}
					if b.Source.Type == "url" {
						ref.Kind = ir.MediaURL
						ref.URL = b.Source.URL
					} else {
						ref.Kind = ir.MediaBase64
						ref.MediaType = b.Source.MediaType
						ref.Data = b.Source.Data
					}
					m.Content = append(m.Content, ir.ContentPart{Type: ir.PartImage, Image: ref})
				case anthropic.ContentBlockTypeToolUse:
					m.Content = append(m.Content, ir.ToolUsePart(b.ID, b.Name, string(b.Input)))
				case anthropic.ContentBlockTypeToolResult:
					m.Content = append(m.Content, ir.ToolResultPart(b.ToolUseID, b.Content.Joined(), b.IsError))
				}
			}
		}
		out.Messages = append(out.Messages, m)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ir.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	if tc := req.ToolChoice; tc != nil {
		out.ToolChoice = &ir.ToolChoice{}
		switch tc.Type {
		case anthropic.ToolChoiceTypeAny:
			out.ToolChoice.Mode = ir.ToolChoiceRequired
		case anthropic.ToolChoiceTypeNone:
			out.ToolChoice.Mode = ir.ToolChoiceNone
		case anthropic.ToolChoiceTypeTool:
			out.ToolChoice.Mode = ir.ToolChoiceFunction
			out.ToolChoice.FunctionName = tc.Name
		default:
			out.ToolChoice.Mode = ir.ToolChoiceAuto
		}
	}

	g := &out.Generation
	g.Temperature = req.Temperature
	g.TopP = req.TopP
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		g.MaxTokens = &mt
	}
	g.StopSequences = req.StopSequences
	if th := req.Thinking; th != nil && th.Type == "enabled" {
		g.Reasoning = &ir.Reasoning{Enabled: true, BudgetTokens: th.BudgetTokens}
	}
	if req.TopK != nil {
		out.Extensions = setExtension(out.Extensions, "top_k", *req.TopK)
	}
	return out, nil
}

func (a anthropicAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("anthropic: request has no model")
	}
	out := anthropic.MessagesRequest{
		Model:     req.Model,
		MaxTokens: defaultMaxTokens,
		Stream:    req.Stream,
	}
	if req.System != "" {
		out.System = &anthropic.SystemPrompt{Text: req.System}
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		role := anthropic.MessageRoleUser
		if msg.Role == ir.RoleAssistant {
			role = anthropic.MessageRoleAssistant
		}
		var blocks []anthropic.ContentBlock
		if msg.ReasoningContent != "" {
			blocks = append(blocks, anthropic.ContentBlock{
				Type:     anthropic.ContentBlockTypeThinking,
				Thinking: msg.ReasoningContent,
			})
		}
		for _, p := range msg.Content {
			switch p.Type {
			case ir.PartText:
				blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.ContentBlockTypeText, Text: p.Text})
			case ir.PartImage:
				src := &anthropic.ImageSource{}
				if p.Image.Kind == ir.MediaURL {
					src.Type = "url"
					src.URL = p.Image.URL
				} else {
					src.Type = "base64"
					src.MediaType = p.Image.MediaType
					src.Data = p.Image.Data
				}
				blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.ContentBlockTypeImage, Source: src})
			case ir.PartToolUse:
				blocks = append(blocks, anthropic.ContentBlock{
					Type:  anthropic.ContentBlockTypeToolUse,
					ID:    p.ToolUse.ID,
					Name:  p.ToolUse.Name,
					Input: normalizeJSONObject(p.ToolUse.Arguments),
				})
			case ir.PartToolResult:
				blocks = append(blocks, anthropic.ContentBlock{
					Type:      anthropic.ContentBlockTypeToolResult,
					ToolUseID: p.ToolResult.ToolUseID,
					Content:   &anthropic.ToolResultContent{Text: p.ToolResult.Content},
					IsError:   p.ToolResult.IsError,
				})
			default:
				// Audio and video have no Messages API block type.
				blocks = append(blocks, anthropic.ContentBlock{
					Type: anthropic.ContentBlockTypeText,
					Text: degradeToText(p).Text,
				})
			}
		}
		out.Messages = append(out.Messages, anthropic.Message{
			Role:    role,
			Content: anthropic.MessageContent{Blocks: blocks},
		})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	if tc := req.ToolChoice; tc != nil {
		out.ToolChoice = &anthropic.ToolChoice{}
		switch tc.Mode {
		case ir.ToolChoiceRequired:
			out.ToolChoice.Type = anthropic.ToolChoiceTypeAny
		case ir.ToolChoiceNone:
			out.ToolChoice.Type = anthropic.ToolChoiceTypeNone
		case ir.ToolChoiceFunction:
			out.ToolChoice.Type = anthropic.ToolChoiceTypeTool
			out.ToolChoice.Name = tc.FunctionName
		default:
			out.ToolChoice.Type = anthropic.ToolChoiceTypeAuto
		}
	}

	g := req.Generation
	out.Temperature = g.Temperature
	out.TopP = g.TopP
	if g.MaxTokens != nil {
		out.MaxTokens = *g.MaxTokens
	}
	out.StopSequences = g.StopSequences
	if r := g.Reasoning; r != nil && r.Enabled {
		out.Thinking = &anthropic.Thinking{Type: "enabled", BudgetTokens: r.BudgetTokens}
	}
	if topK, ok := req.Extensions["top_k"].(int64); ok {
		out.TopK = &topK
	}
	return json.Marshal(&out)
}

// normalizeJSONObject returns arguments as a raw JSON object, falling back
// to an empty object for unparseable input since tool_use.input must be an
// object.
func normalizeJSONObject(arguments string) json.RawMessage {
	if json.Valid([]byte(arguments)) && len(arguments) > 0 && arguments[0] == '{' {
		return json.RawMessage(arguments)
	}
	return json.RawMessage("{}")
}

func (a anthropicAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp anthropic.MessagesResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("invalid anthropic response: %w", err)
	}
	out := &ir.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: usageFromAnthropic(resp.Usage),
		Raw:   wire,
	}
	choice := ir.Choice{FinishReason: finishReasonFromAnthropic(resp.StopReason)}
	for _, b := range resp.Content {
		switch b.Type {
		case anthropic.ContentBlockTypeText:
			choice.Message.Content = append(choice.Message.Content, ir.TextPart(b.Text))
		case anthropic.ContentBlockTypeThinking:
			choice.Message.ReasoningContent = appendSystem(choice.Message.ReasoningContent, b.Thinking)
		case anthropic.ContentBlockTypeToolUse:
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, ir.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	out.Choices = append(out.Choices, choice)
	return out, nil
}

func (a anthropicAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	out := anthropic.MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  anthropic.MessageRoleAssistant,
		Model: resp.Model,
		Usage: &anthropic.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) > 0 {
		// The Messages API has a single completion; extra choices from
		// n>1 upstreams are dropped.
		c := resp.Choices[0]
		out.StopReason = finishReasonToAnthropic(c.FinishReason)
		if c.Message.ReasoningContent != "" {
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type:     anthropic.ContentBlockTypeThinking,
				Thinking: c.Message.ReasoningContent,
			})
		}
		if text := c.Message.Text(); text != "" {
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type: anthropic.ContentBlockTypeText,
				Text: text,
			})
		}
		for _, tc := range c.Message.ToolCalls {
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type:  anthropic.ContentBlockTypeToolUse,
				ID:    tc.ID,
				Name:  tc.Name,
				Input: normalizeJSONObject(tc.Arguments),
			})
		}
	}
	if out.Content == nil {
		out.Content = []anthropic.ContentBlock{}
	}
	return json.Marshal(&out)
}

func usageFromAnthropic(u *anthropic.Usage) ir.Usage {
	if u == nil {
		return ir.Usage{}
	}
	return ir.Usage{
		PromptTokens:     uint32(u.InputTokens),                  //nolint:gosec
		CompletionTokens: uint32(u.OutputTokens),                 //nolint:gosec
		TotalTokens:      uint32(u.InputTokens + u.OutputTokens), //nolint:gosec
	}
}

func finishReasonFromAnthropic(reason anthropic.StopReason) ir.FinishReason {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return ir.FinishLength
	case anthropic.StopReasonToolUse:
		return ir.FinishToolCalls
	case anthropic.StopReasonRefusal:
		return ir.FinishContentFilter
	default: // end_turn, stop_sequence, unknown
		return ir.FinishStop
	}
}

func finishReasonToAnthropic(reason ir.FinishReason) anthropic.StopReason {
	switch reason {
	case ir.FinishLength:
		return anthropic.StopReasonMaxTokens
	case ir.FinishToolCalls:
		return anthropic.StopReasonToolUse
	case ir.FinishContentFilter:
		return anthropic.StopReasonRefusal
	default:
		return anthropic.StopReasonEndTurn
	}
}

var anthropicErrorTypes = map[string]ir.ErrorKind{
	anthropic.ErrorTypeInvalidRequest: ir.ErrorKindValidation,
	anthropic.ErrorTypeAuthentication: ir.ErrorKindAuthentication,
	anthropic.ErrorTypePermission:     ir.ErrorKindPermission,
	anthropic.ErrorTypeNotFound:       ir.ErrorKindNotFound,
	anthropic.ErrorTypeRateLimit:      ir.ErrorKindRateLimit,
	anthropic.ErrorTypeAPI:            ir.ErrorKindAPI,
	anthropic.ErrorTypeOverloaded:     ir.ErrorKindServer,
}

func (a anthropicAdapter) ParseError(status int, body []byte) *ir.Error {
	out := &ir.Error{Kind: ir.ErrorKindUnknown, StatusCode: status, Raw: body}
	var resp anthropic.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
		out.Message = string(body)
		out.Kind = errorKindFromStatus(status)
		return out
	}
	out.Message = resp.Error.Message
	out.Code = resp.Error.Type
	if kind, ok := anthropicErrorTypes[resp.Error.Type]; ok {
		out.Kind = kind
	} else {
		out.Kind = errorKindFromStatus(status)
	}
	return out
}
