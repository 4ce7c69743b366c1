// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/isboyjc/amux/internal/apischema/openai"
	"github.com/isboyjc/amux/internal/apischema/openairesponses"
	"github.com/isboyjc/amux/internal/ir"
)

func init() {
	register(responsesAdapter{})
}

// responsesAdapter implements the OpenAI Responses dialect. Function-call
// correlation uses call_id; message content is item-based rather than
// choice-based, so everything maps onto choice 0.
type responsesAdapter struct{}

func (responsesAdapter) Name() string    { return NameOpenAIResponses }
func (responsesAdapter) Version() string { return "v1" }

func (responsesAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming: true, Tools: true, Vision: true, Multimodal: true,
		SystemPrompt: true, ToolChoice: true, Reasoning: true,
		WebSearch: true, JSONMode: true,
	}
}

func (responsesAdapter) DefaultBaseURL() string    { return "https://api.openai.com" }
func (responsesAdapter) DefaultChatPath() string   { return "/v1/responses" }
func (responsesAdapter) DefaultModelsPath() string { return "/v1/models" }

func (r responsesAdapter) ChatPath(pathOverride, _ string, _ bool) string {
	if pathOverride != "" {
		return pathOverride
	}
	return r.DefaultChatPath()
}

func (responsesAdapter) ApplyAuth(h http.Header, key string) {
	h.Set("Authorization", "Bearer "+key)
}

func (responsesAdapter) Framing() Framing {
	return Framing{EventPrefixed: true, DoneTerminator: false}
}

func (r responsesAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req openairesponses.Request
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("invalid openai-responses request: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("invalid openai-responses request: missing model")
	}

	out := &ir.Request{
		Model:  req.Model,
		System: req.Instructions,
		Stream: req.Stream,
		Raw:    wire,
	}
	if req.Input.Items == nil {
		if req.Input.Text != "" {
			out.Messages = append(out.Messages, ir.Message{
				Role:    ir.RoleUser,
				Content: []ir.ContentPart{ir.TextPart(req.Input.Text)},
			})
		}
	} else {
		for i := range req.Input.Items {
			item := &req.Input.Items[i]
			switch item.Type {
			case openairesponses.ItemTypeMessage, "":
				r.parseMessageItem(out, item)
			case openairesponses.ItemTypeFunctionCall:
				out.Messages = append(out.Messages, ir.Message{
					Role:    ir.RoleAssistant,
					Content: []ir.ContentPart{ir.ToolUsePart(item.CallID, item.Name, item.Arguments)},
				})
			case openairesponses.ItemTypeFunctionCallOutput:
				out.Messages = append(out.Messages, ir.Message{
					Role:    ir.RoleTool,
					Content: []ir.ContentPart{ir.ToolResultPart(item.CallID, item.Output, false)},
				})
			}
		}
	}

	for _, t := range req.Tools {
		if t.Type != "function" {
			continue
		}
		out.Tools = append(out.Tools, ir.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if tc := req.ToolChoice; tc != nil {
		out.ToolChoice = &ir.ToolChoice{}
		if tc.Function != "" {
			out.ToolChoice.Mode = ir.ToolChoiceFunction
			out.ToolChoice.FunctionName = tc.Function
		} else {
			out.ToolChoice.Mode = ir.ToolChoiceMode(tc.Mode)
		}
	}

	g := &out.Generation
	g.Temperature = req.Temperature
	g.TopP = req.TopP
	g.MaxTokens = req.MaxOutputTokens
	if req.Reasoning != nil {
		g.Reasoning = &ir.Reasoning{Enabled: true, Effort: req.Reasoning.Effort}
	}
	if req.Text != nil && req.Text.Format != nil {
		f := req.Text.Format
		g.ResponseFormat = &ir.ResponseFormat{
			Type:       ir.ResponseFormatType(f.Type),
			SchemaName: f.Name,
			Schema:     f.Schema,
			Strict:     f.Strict,
		}
	}
	if req.User != "" {
		out.Extensions = setExtension(out.Extensions, "user", req.User)
	}
	return out, nil
}

func (responsesAdapter) parseMessageItem(out *ir.Request, item *openairesponses.Item) {
	text := item.Content.Text
	var parts []ir.ContentPart
	if item.Content.Parts == nil {
		if text != "" {
			parts = []ir.ContentPart{ir.TextPart(text)}
		}
	} else {
		for _, p := range item.Content.Parts {
			switch p.Type {
			case openairesponses.ContentPartTypeInputText, openairesponses.ContentPartTypeOutputText:
				parts = append(parts, ir.TextPart(p.Text))
			case openairesponses.ContentPartTypeInputImage:
				parts = append(parts, ir.ContentPart{Type: ir.PartImage, Image: imageRefFromURL(p.ImageURL)})
			}
		}
	}
	switch item.Role {
	case "system", "developer":
		for _, p := range parts {
			if p.Type == ir.PartText {
				out.System = appendSystem(out.System, p.Text)
			}
		}
	case "assistant":
		out.Messages = append(out.Messages, ir.Message{Role: ir.RoleAssistant, Content: parts})
	default:
		out.Messages = append(out.Messages, ir.Message{Role: ir.RoleUser, Content: parts})
	}
}

func (r responsesAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("openai-responses: request has no model")
	}
	out := openairesponses.Request{
		Model:           req.Model,
		Instructions:    req.System,
		Stream:          req.Stream,
		Temperature:     req.Generation.Temperature,
		TopP:            req.Generation.TopP,
		MaxOutputTokens: req.Generation.MaxTokens,
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		var parts []openairesponses.ContentPart
		textType := openairesponses.ContentPartTypeInputText
		if msg.Role == ir.RoleAssistant {
			textType = openairesponses.ContentPartTypeOutputText
		}
		for _, p := range msg.Content {
			switch p.Type {
			case ir.PartText:
				parts = append(parts, openairesponses.ContentPart{Type: textType, Text: p.Text})
			case ir.PartImage:
				parts = append(parts, openairesponses.ContentPart{
					Type:     openairesponses.ContentPartTypeInputImage,
					ImageURL: dataURIFromRef(p.Image),
				})
			case ir.PartToolUse:
				out.Input.Items = append(out.Input.Items, openairesponses.Item{
					Type:      openairesponses.ItemTypeFunctionCall,
					CallID:    p.ToolUse.ID,
					Name:      p.ToolUse.Name,
					Arguments: p.ToolUse.Arguments,
				})
			case ir.PartToolResult:
				out.Input.Items = append(out.Input.Items, openairesponses.Item{
					Type:   openairesponses.ItemTypeFunctionCallOutput,
					CallID: p.ToolResult.ToolUseID,
					Output: p.ToolResult.Content,
				})
			default:
				parts = append(parts, openairesponses.ContentPart{Type: textType, Text: degradeToText(p).Text})
			}
		}
		if parts != nil {
			out.Input.Items = append(out.Input.Items, openairesponses.Item{
				Type:    openairesponses.ItemTypeMessage,
				Role:    string(msg.Role),
				Content: openairesponses.ContentUnion{Parts: parts},
			})
		}
	}
	if out.Input.Items == nil {
		out.Input.Items = []openairesponses.Item{}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openairesponses.Tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if tc := req.ToolChoice; tc != nil {
		if tc.Mode == ir.ToolChoiceFunction {
			out.ToolChoice = &openai.ToolChoiceUnion{Function: tc.FunctionName}
		} else {
			out.ToolChoice = &openai.ToolChoiceUnion{Mode: string(tc.Mode)}
		}
	}
	if rs := req.Generation.Reasoning; rs != nil && rs.Enabled {
		out.Reasoning = &openairesponses.Reasoning{Effort: rs.Effort}
	}
	if rf := req.Generation.ResponseFormat; rf != nil {
		out.Text = &openairesponses.TextConfig{Format: &openairesponses.TextFormat{
			Type:   string(rf.Type),
			Name:   rf.SchemaName,
			Schema: rf.Schema,
			Strict: rf.Strict,
		}}
	}
	if user, ok := req.Extensions["user"].(string); ok {
		out.User = user
	}
	return json.Marshal(&out)
}

func (r responsesAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp openairesponses.Response
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("invalid openai-responses response: %w", err)
	}
	out := &ir.Response{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.CreatedAt,
		Raw:     wire,
	}
	if resp.Usage != nil {
		out.Usage = ir.Usage{
			PromptTokens:     uint32(resp.Usage.InputTokens),  //nolint:gosec
			CompletionTokens: uint32(resp.Usage.OutputTokens), //nolint:gosec
			TotalTokens:      uint32(resp.Usage.TotalTokens),  //nolint:gosec
		}
	}
	choice := ir.Choice{FinishReason: ir.FinishStop}
	for i := range resp.Output {
		item := &resp.Output[i]
		switch item.Type {
		case openairesponses.ItemTypeMessage:
			for _, p := range item.Content.Parts {
				if p.Type == openairesponses.ContentPartTypeOutputText {
					choice.Message.Content = append(choice.Message.Content, ir.TextPart(p.Text))
				}
			}
			if item.Content.Parts == nil && item.Content.Text != "" {
				choice.Message.Content = append(choice.Message.Content, ir.TextPart(item.Content.Text))
			}
		case openairesponses.ItemTypeFunctionCall:
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, ir.ToolCall{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
			choice.FinishReason = ir.FinishToolCalls
		case openairesponses.ItemTypeReasoning:
			for _, s := range item.Summary {
				choice.Message.ReasoningContent = appendSystem(choice.Message.ReasoningContent, s.Text)
			}
		}
	}
	if resp.Status == openairesponses.StatusIncomplete &&
		resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens" {
		choice.FinishReason = ir.FinishLength
	}
	out.Choices = append(out.Choices, choice)
	return out, nil
}

func (r responsesAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	out := openairesponses.Response{
		ID:        resp.ID,
		Object:    "response",
		CreatedAt: resp.Created,
		Model:     resp.Model,
		Status:    openairesponses.StatusCompleted,
		Usage: &openairesponses.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:  int64(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		if c.Message.ReasoningContent != "" {
			out.Output = append(out.Output, openairesponses.Item{
				Type:    openairesponses.ItemTypeReasoning,
				Summary: []openairesponses.SummaryPart{{Type: "summary_text", Text: c.Message.ReasoningContent}},
			})
		}
		if text := c.Message.Text(); text != "" {
			out.Output = append(out.Output, openairesponses.Item{
				Type:   openairesponses.ItemTypeMessage,
				Role:   "assistant",
				Status: openairesponses.StatusCompleted,
				Content: openairesponses.ContentUnion{Parts: []openairesponses.ContentPart{{
					Type: openairesponses.ContentPartTypeOutputText,
					Text: text,
				}}},
			})
		}
		for _, tc := range c.Message.ToolCalls {
			out.Output = append(out.Output, openairesponses.Item{
				Type:      openairesponses.ItemTypeFunctionCall,
				Status:    openairesponses.StatusCompleted,
				CallID:    tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		if c.FinishReason == ir.FinishLength {
			out.Status = openairesponses.StatusIncomplete
			out.IncompleteDetails = &openairesponses.IncompleteDetails{Reason: "max_output_tokens"}
		}
	}
	if out.Output == nil {
		out.Output = []openairesponses.Item{}
	}
	return json.Marshal(&out)
}

func (r responsesAdapter) ParseError(status int, body []byte) *ir.Error {
	// The Responses API shares the OpenAI error envelope.
	return openAI{name: NameOpenAIResponses}.ParseError(status, body)
}
