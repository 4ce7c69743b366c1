// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/isboyjc/amux/internal/apischema/openai"
	"github.com/isboyjc/amux/internal/ir"
)

func init() {
	register(openAI{
		name:       NameOpenAI,
		version:    "v1",
		baseURL:    "https://api.openai.com",
		chatPath:   "/v1/chat/completions",
		modelsPath: "/v1/models",
		caps: Capabilities{
			Streaming: true, Tools: true, Vision: true, Multimodal: true,
			SystemPrompt: true, ToolChoice: true, Reasoning: true,
			WebSearch: true, JSONMode: true, Logprobs: true, Seed: true,
		},
	})
}

// openAI implements the OpenAI Chat Completions dialect. The
// OpenAI-compatible dialects (DeepSeek, Moonshot, Qwen, Zhipu) embed it
// with their own endpoints and capability records.
type openAI struct {
	name       string
	version    string
	baseURL    string
	chatPath   string
	modelsPath string
	caps       Capabilities
}

func (o openAI) Name() string               { return o.name }
func (o openAI) Version() string            { return o.version }
func (o openAI) Capabilities() Capabilities { return o.caps }
func (o openAI) DefaultBaseURL() string     { return o.baseURL }
func (o openAI) DefaultChatPath() string    { return o.chatPath }
func (o openAI) DefaultModelsPath() string  { return o.modelsPath }

func (o openAI) ChatPath(pathOverride, _ string, _ bool) string {
	if pathOverride != "" {
		return pathOverride
	}
	return o.chatPath
}

func (o openAI) ApplyAuth(h http.Header, key string) {
	h.Set("Authorization", "Bearer "+key)
}

func (o openAI) Framing() Framing {
	return Framing{EventPrefixed: false, DoneTerminator: true}
}

func (o openAI) ParseRequest(wire []byte) (*ir.Request, error) {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("invalid %s request: %w", o.name, err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("invalid %s request: missing model", o.name)
	}

	out := &ir.Request{
		Model:  req.Model,
		Stream: req.Stream,
		Raw:    wire,
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleDeveloper:
			out.System = appendSystem(out.System, contentText(msg.Content))
		case openai.ChatMessageRoleTool:
			out.Messages = append(out.Messages, ir.Message{
				Role:    ir.RoleTool,
				Content: []ir.ContentPart{ir.ToolResultPart(msg.ToolCallID, contentText(msg.Content), false)},
			})
		default:
			m := ir.Message{
				Role:             ir.Role(msg.Role),
				Name:             msg.Name,
				Content:          contentParts(msg.Content),
				ReasoningContent: msg.ReasoningContent,
			}
			for _, tc := range msg.ToolCalls {
				m.Content = append(m.Content, ir.ToolUsePart(tc.ID, tc.Function.Name, tc.Function.Arguments))
			}
			out.Messages = append(out.Messages, m)
		}
	}

	for _, t := range req.Tools {
		if t.Function == nil {
			continue
		}
		out.Tools = append(out.Tools, ir.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
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
	if req.MaxCompletionTokens != nil {
		g.MaxTokens = req.MaxCompletionTokens
	} else {
		g.MaxTokens = req.MaxTokens
	}
	g.StopSequences = req.Stop.Values
	g.PresencePenalty = req.PresencePenalty
	g.FrequencyPenalty = req.FrequencyPenalty
	g.Seed = req.Seed
	g.Logprobs = req.Logprobs
	g.TopLogprobs = req.TopLogprobs
	if rf := req.ResponseFormat; rf != nil {
		g.ResponseFormat = &ir.ResponseFormat{Type: ir.ResponseFormatType(rf.Type)}
		if rf.JSONSchema != nil {
			g.ResponseFormat.SchemaName = rf.JSONSchema.Name
			g.ResponseFormat.Schema = rf.JSONSchema.Schema
			g.ResponseFormat.Strict = rf.JSONSchema.Strict
		}
	}
	if req.ReasoningEffort != "" {
		g.Reasoning = &ir.Reasoning{Enabled: true, Effort: req.ReasoningEffort}
	}
	if req.EnableThinking != nil && *req.EnableThinking {
		g.Reasoning = &ir.Reasoning{Enabled: true}
	}
	g.WebSearch = req.WebSearchOptions != nil

	if req.User != "" {
		out.Extensions = setExtension(out.Extensions, "user", req.User)
	}
	if req.EnableThinking != nil {
		out.Extensions = setExtension(out.Extensions, "enable_thinking", *req.EnableThinking)
	}
	if req.DoSample != nil {
		out.Extensions = setExtension(out.Extensions, "do_sample", *req.DoSample)
	}
	return out, nil
}

func setExtension(ext map[string]any, key string, value any) map[string]any {
	if ext == nil {
		ext = map[string]any{}
	}
	ext[key] = value
	return ext
}

// contentText flattens a content union into plain text.
func contentText(c openai.ContentUnion) string {
	if !c.IsParts() {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == openai.ContentPartTypeText {
			out += p.Text
		}
	}
	return out
}

// contentParts normalizes a content union into IR parts.
func contentParts(c openai.ContentUnion) []ir.ContentPart {
	if !c.IsParts() {
		if c.Text == "" {
			return nil
		}
		return []ir.ContentPart{ir.TextPart(c.Text)}
	}
	out := make([]ir.ContentPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case openai.ContentPartTypeText:
			out = append(out, ir.TextPart(p.Text))
		case openai.ContentPartTypeImageURL:
			if p.ImageURL != nil {
				out = append(out, ir.ContentPart{Type: ir.PartImage, Image: imageRefFromURL(p.ImageURL.URL)})
			}
		case openai.ContentPartTypeInputAudio:
			if p.InputAudio != nil {
				mt := "audio/" + p.InputAudio.Format
				out = append(out, ir.ContentPart{Type: ir.PartAudio, Audio: &ir.MediaRef{
					Kind: ir.MediaBase64, MediaType: mt, Data: p.InputAudio.Data,
				}})
			}
		case openai.ContentPartTypeVideoURL:
			if p.VideoURL != nil {
				out = append(out, ir.ContentPart{Type: ir.PartVideo, Video: &ir.MediaRef{
					Kind: ir.MediaURL, URL: p.VideoURL.URL,
				}})
			}
		}
	}
	return out
}

func (o openAI) BuildRequest(req *ir.Request) ([]byte, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("%s: request has no model", o.name)
	}
	out := openai.ChatCompletionRequest{
		Model:  req.Model,
		Stream: req.Stream,
	}
	if req.Stream {
		// Ask the upstream for the final usage-bearing chunk so token
		// accounting works on streamed requests too.
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: openai.ContentUnion{Text: req.System},
		})
	}
	for i := range req.Messages {
		out.Messages = append(out.Messages, o.buildMessages(&req.Messages[i])...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: &openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if tc := req.ToolChoice; tc != nil {
		if tc.Mode == ir.ToolChoiceFunction {
			out.ToolChoice = &openai.ToolChoiceUnion{Function: tc.FunctionName}
		} else {
			out.ToolChoice = &openai.ToolChoiceUnion{Mode: string(tc.Mode)}
		}
	}

	g := req.Generation
	out.Temperature = g.Temperature
	out.TopP = g.TopP
	out.MaxTokens = g.MaxTokens
	if g.StopSequences != nil {
		out.Stop = openai.StringOrArray{Values: g.StopSequences}
	}
	out.PresencePenalty = g.PresencePenalty
	out.FrequencyPenalty = g.FrequencyPenalty
	out.Seed = g.Seed
	out.Logprobs = g.Logprobs
	out.TopLogprobs = g.TopLogprobs
	if rf := g.ResponseFormat; rf != nil {
		out.ResponseFormat = &openai.ResponseFormat{Type: string(rf.Type)}
		if rf.Type == ir.ResponseFormatJSONSchema {
			out.ResponseFormat.JSONSchema = &openai.JSONSchema{
				Name:   rf.SchemaName,
				Schema: rf.Schema,
				Strict: rf.Strict,
			}
		}
	}
	if r := g.Reasoning; r != nil && r.Enabled && r.Effort != "" {
		out.ReasoningEffort = r.Effort
	}
	if g.WebSearch {
		out.WebSearchOptions = &openai.WebSearchOptions{}
	}

	if user, ok := req.Extensions["user"].(string); ok {
		out.User = user
	}
	o.applyExtensions(&out, req)
	return json.Marshal(&out)
}

// applyExtensions re-applies the dialect-private request options the
// compatible dialects carry through IR extensions. The base dialect only
// restores thinking/sampling toggles when building for itself.
func (o openAI) applyExtensions(out *openai.ChatCompletionRequest, req *ir.Request) {
	switch o.name {
	case NameQwen:
		if v, ok := req.Extensions["enable_thinking"].(bool); ok {
			out.EnableThinking = &v
		} else if r := req.Generation.Reasoning; r != nil && r.Enabled {
			enabled := true
			out.EnableThinking = &enabled
		}
		// Qwen rejects reasoning_effort; the toggle is the whole surface.
		out.ReasoningEffort = ""
	case NameZhipu:
		if v, ok := req.Extensions["do_sample"].(bool); ok {
			out.DoSample = &v
		}
		out.ReasoningEffort = ""
	case NameDeepSeek, NameMoonshot:
		out.ReasoningEffort = ""
	}
}

// buildMessages renders one IR message as wire messages. Tool results
// expand to tool-role messages, one per result part.
func (o openAI) buildMessages(m *ir.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	msg := openai.ChatCompletionMessage{
		Role:             string(m.Role),
		Name:             m.Name,
		ReasoningContent: m.ReasoningContent,
	}
	var parts []openai.ContentPart
	plainText := true
	for _, p := range m.Content {
		switch p.Type {
		case ir.PartText:
			parts = append(parts, openai.ContentPart{Type: openai.ContentPartTypeText, Text: p.Text})
		case ir.PartImage:
			plainText = false
			parts = append(parts, openai.ContentPart{
				Type:     openai.ContentPartTypeImageURL,
				ImageURL: &openai.ImageURL{URL: dataURIFromRef(p.Image)},
			})
		case ir.PartAudio:
			plainText = false
			if p.Audio.Kind == ir.MediaBase64 && (o.name == NameOpenAI || o.name == NameQwen) {
				parts = append(parts, openai.ContentPart{
					Type:       openai.ContentPartTypeInputAudio,
					InputAudio: &openai.InputAudio{Data: p.Audio.Data, Format: audioFormat(p.Audio.MediaType)},
				})
			} else {
				parts = append(parts, openai.ContentPart{Type: openai.ContentPartTypeText, Text: degradeToText(p).Text})
			}
		case ir.PartVideo:
			plainText = false
			if o.name == NameQwen && p.Video.Kind == ir.MediaURL {
				parts = append(parts, openai.ContentPart{
					Type:     openai.ContentPartTypeVideoURL,
					VideoURL: &openai.VideoURL{URL: p.Video.URL},
				})
			} else {
				parts = append(parts, openai.ContentPart{Type: openai.ContentPartTypeText, Text: degradeToText(p).Text})
			}
		case ir.PartToolUse:
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       p.ToolUse.ID,
				Type:     "function",
				Function: openai.ToolCallFunction{Name: p.ToolUse.Name, Arguments: p.ToolUse.Arguments},
			})
		case ir.PartToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: p.ToolResult.ToolUseID,
				Content:    openai.ContentUnion{Text: p.ToolResult.Content},
			})
		}
	}
	if m.Role == ir.RoleTool {
		// Tool results were already expanded above under the tool role.
		return out
	}
	if plainText && len(parts) <= 1 {
		var text string
		if len(parts) == 1 {
			text = parts[0].Text
		}
		msg.Content = openai.ContentUnion{Text: text}
	} else {
		msg.Content = openai.ContentUnion{Parts: parts}
	}
	return append([]openai.ChatCompletionMessage{msg}, out...)
}

func audioFormat(mediaType string) string {
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	default:
		return "wav"
	}
}

func (o openAI) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("invalid %s response: %w", o.name, err)
	}
	out := &ir.Response{
		ID:                resp.ID,
		Model:             resp.Model,
		Created:           resp.Created,
		SystemFingerprint: resp.SystemFingerprint,
		Usage:             usageFromOpenAI(resp.Usage),
		Raw:               wire,
	}
	for _, c := range resp.Choices {
		choice := ir.Choice{
			Index:        c.Index,
			FinishReason: finishReasonFromOpenAI(c.FinishReason),
		}
		if c.Message.Content != nil && *c.Message.Content != "" {
			choice.Message.Content = []ir.ContentPart{ir.TextPart(*c.Message.Content)}
		}
		choice.Message.ReasoningContent = c.Message.ReasoningContent
		for _, tc := range c.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, ir.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out.Choices = append(out.Choices, choice)
	}
	return out, nil
}

func (o openAI) BuildResponse(resp *ir.Response) ([]byte, error) {
	out := openai.ChatCompletionResponse{
		ID:                resp.ID,
		Object:            "chat.completion",
		Created:           resp.Created,
		Model:             resp.Model,
		SystemFingerprint: resp.SystemFingerprint,
		Usage: &openai.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if out.Created == 0 {
		out.Created = time.Now().Unix()
	}
	for _, c := range resp.Choices {
		text := c.Message.Text()
		choice := openai.ChatCompletionResponseChoice{
			Index:        c.Index,
			FinishReason: string(c.FinishReason),
			Message: openai.ChatCompletionResponseMessage{
				Role:             openai.ChatMessageRoleAssistant,
				Content:          &text,
				ReasoningContent: c.Message.ReasoningContent,
			},
		}
		for _, tc := range c.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openai.ToolCallFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out.Choices = append(out.Choices, choice)
	}
	return json.Marshal(&out)
}

func usageFromOpenAI(u *openai.Usage) ir.Usage {
	if u == nil {
		return ir.Usage{}
	}
	return ir.Usage{
		PromptTokens:     uint32(u.PromptTokens),     //nolint:gosec
		CompletionTokens: uint32(u.CompletionTokens), //nolint:gosec
		TotalTokens:      uint32(u.TotalTokens),      //nolint:gosec
	}
}

func finishReasonFromOpenAI(reason string) ir.FinishReason {
	switch reason {
	case openai.FinishReasonLength:
		return ir.FinishLength
	case openai.FinishReasonToolCalls, "function_call":
		return ir.FinishToolCalls
	case openai.FinishReasonContentFilter:
		return ir.FinishContentFilter
	default:
		return ir.FinishStop
	}
}

// openAIErrorCodes maps upstream error codes to canonical kinds, consulted
// before the error type string.
var openAIErrorCodes = map[string]ir.ErrorKind{
	"invalid_api_key":         ir.ErrorKindAuthentication,
	"account_deactivated":     ir.ErrorKindAuthentication,
	"insufficient_quota":      ir.ErrorKindPermission,
	"model_not_found":         ir.ErrorKindNotFound,
	"context_length_exceeded": ir.ErrorKindValidation,
	"rate_limit_exceeded":     ir.ErrorKindRateLimit,
	"invalid_request_error":   ir.ErrorKindValidation,
	"server_error":            ir.ErrorKindServer,
}

var openAIErrorTypes = map[string]ir.ErrorKind{
	"invalid_request_error": ir.ErrorKindValidation,
	"authentication_error":  ir.ErrorKindAuthentication,
	"permission_error":      ir.ErrorKindPermission,
	"not_found_error":       ir.ErrorKindNotFound,
	"rate_limit_error":      ir.ErrorKindRateLimit,
	"rate_limit_exceeded":   ir.ErrorKindRateLimit,
	"api_error":             ir.ErrorKindAPI,
	"server_error":          ir.ErrorKindServer,
}

func (o openAI) ParseError(status int, body []byte) *ir.Error {
	out := &ir.Error{Kind: ir.ErrorKindUnknown, StatusCode: status, Raw: body}
	var resp openai.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
		out.Message = string(body)
		out.Kind = errorKindFromStatus(status)
		return out
	}
	out.Message = resp.Error.Message
	out.Code = resp.Error.Code
	if kind, ok := openAIErrorCodes[resp.Error.Code]; ok {
		out.Kind = kind
	} else if kind, ok := openAIErrorTypes[resp.Error.Type]; ok {
		out.Kind = kind
	} else {
		out.Kind = errorKindFromStatus(status)
	}
	return out
}

// errorKindFromStatus is the fallback classification when the body gave
// no usable code or type.
func errorKindFromStatus(status int) ir.ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return ir.ErrorKindAuthentication
	case status == http.StatusForbidden:
		return ir.ErrorKindPermission
	case status == http.StatusNotFound:
		return ir.ErrorKindNotFound
	case status == http.StatusTooManyRequests:
		return ir.ErrorKindRateLimit
	case status >= 500:
		return ir.ErrorKindServer
	case status >= 400:
		return ir.ErrorKindValidation
	default:
		return ir.ErrorKindUnknown
	}
}
