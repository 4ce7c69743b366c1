// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/isboyjc/amux/internal/apischema/gemini"
	"github.com/isboyjc/amux/internal/ir"
)

func init() {
	register(googleAdapter{})
}

// googleAdapter implements the Google Gemini generateContent dialect.
// The model travels in the URL, not the body; the route engine injects it
// into the body before parsing and ChatPath moves it back.
type googleAdapter struct{}

func (googleAdapter) Name() string    { return NameGoogle }
func (googleAdapter) Version() string { return "v1beta" }

func (googleAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming: true, Tools: true, Vision: true, Multimodal: true,
		SystemPrompt: true, ToolChoice: true, Reasoning: true,
		WebSearch: true, JSONMode: true, Seed: true,
	}
}

func (googleAdapter) DefaultBaseURL() string    { return "https://generativelanguage.googleapis.com" }
func (googleAdapter) DefaultChatPath() string   { return "/v1beta/models/{model}:generateContent" }
func (googleAdapter) DefaultModelsPath() string { return "/v1beta/models" }

func (g googleAdapter) ChatPath(pathOverride, model string, stream bool) string {
	path := pathOverride
	if path == "" {
		if stream {
			path = "/v1beta/models/{model}:streamGenerateContent?alt=sse"
		} else {
			path = g.DefaultChatPath()
		}
	}
	return strings.ReplaceAll(path, "{model}", model)
}

func (googleAdapter) ApplyAuth(h http.Header, key string) {
	h.Set("x-goog-api-key", key)
}

func (googleAdapter) Framing() Framing {
	return Framing{EventPrefixed: false, DoneTerminator: false}
}

func (g googleAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req gemini.GenerateContentRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("invalid google request: %w", err)
	}

	out := &ir.Request{Model: req.Model, Raw: wire}
	if req.SystemInstruction != nil {
		for _, p := range req.SystemInstruction.Parts {
			if p != nil && p.Text != "" {
				out.System = appendSystem(out.System, p.Text)
			}
		}
	}
	for i := range req.Contents {
		c := &req.Contents[i]
		role := ir.RoleUser
		if c.Role == "model" {
			role = ir.RoleAssistant
		}
		m := ir.Message{Role: role}
		for _, p := range c.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.Text != "" && p.Thought:
				m.ReasoningContent = appendSystem(m.ReasoningContent, p.Text)
			case p.Text != "":
				m.Content = append(m.Content, ir.TextPart(p.Text))
			case p.InlineData != nil:
				ref := &ir.MediaRef{
					Kind:      ir.MediaBase64,
					MediaType: p.InlineData.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(p.InlineData.Data),
				}
				m.Content = append(m.Content, mediaPart(p.InlineData.MIMEType, ref))
			case p.FileData != nil:
				ref := &ir.MediaRef{Kind: ir.MediaURL, URL: p.FileData.FileURI}
				m.Content = append(m.Content, mediaPart(p.FileData.MIMEType, ref))
			case p.FunctionCall != nil:
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("invalid functionCall args: %w", err)
				}
				m.Content = append(m.Content, ir.ToolUsePart(p.FunctionCall.ID, p.FunctionCall.Name, string(args)))
			case p.FunctionResponse != nil:
				result, err := json.Marshal(p.FunctionResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("invalid functionResponse: %w", err)
				}
				// Correlate by id when present, else by function name.
				id := p.FunctionResponse.ID
				if id == "" {
					id = p.FunctionResponse.Name
				}
				m.Role = ir.RoleTool
				m.Content = append(m.Content, ir.ToolResultPart(id, string(result), false))
			}
		}
		out.Messages = append(out.Messages, m)
	}

	for _, t := range req.Tools {
		if t.GoogleSearch != nil {
			out.Generation.WebSearch = true
		}
		for _, fd := range t.FunctionDeclarations {
			if fd == nil {
				continue
			}
			tool := ir.Tool{Name: fd.Name, Description: fd.Description}
			if params, ok := fd.ParametersJsonSchema.(map[string]any); ok {
				tool.Parameters = params
			}
			out.Tools = append(out.Tools, tool)
		}
	}
	if tc := req.ToolConfig; tc != nil && tc.FunctionCallingConfig != nil {
		fcc := tc.FunctionCallingConfig
		out.ToolChoice = &ir.ToolChoice{}
		switch fcc.Mode {
		case genai.FunctionCallingConfigModeAny:
			if len(fcc.AllowedFunctionNames) == 1 {
				out.ToolChoice.Mode = ir.ToolChoiceFunction
				out.ToolChoice.FunctionName = fcc.AllowedFunctionNames[0]
			} else {
				out.ToolChoice.Mode = ir.ToolChoiceRequired
			}
		case genai.FunctionCallingConfigModeNone:
			out.ToolChoice.Mode = ir.ToolChoiceNone
		default:
			out.ToolChoice.Mode = ir.ToolChoiceAuto
		}
	}

	if gc := req.GenerationConfig; gc != nil {
		out.Generation = generationFromGoogle(gc, out.Generation.WebSearch)
	}
	return out, nil
}

// mediaPart picks the IR part type from a MIME type prefix.
func mediaPart(mimeType string, ref *ir.MediaRef) ir.ContentPart {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return ir.ContentPart{Type: ir.PartAudio, Audio: ref}
	case strings.HasPrefix(mimeType, "video/"):
		return ir.ContentPart{Type: ir.PartVideo, Video: ref}
	default:
		return ir.ContentPart{Type: ir.PartImage, Image: ref}
	}
}

func generationFromGoogle(gc *genai.GenerationConfig, webSearch bool) ir.GenerationParams {
	g := ir.GenerationParams{WebSearch: webSearch}
	if gc.Temperature != nil {
		t := float64(*gc.Temperature)
		g.Temperature = &t
	}
	if gc.TopP != nil {
		t := float64(*gc.TopP)
		g.TopP = &t
	}
	if gc.MaxOutputTokens > 0 {
		mt := int64(gc.MaxOutputTokens)
		g.MaxTokens = &mt
	}
	g.StopSequences = gc.StopSequences
	if gc.PresencePenalty != nil {
		p := float64(*gc.PresencePenalty)
		g.PresencePenalty = &p
	}
	if gc.FrequencyPenalty != nil {
		p := float64(*gc.FrequencyPenalty)
		g.FrequencyPenalty = &p
	}
	if gc.Seed != nil {
		s := int64(*gc.Seed)
		g.Seed = &s
	}
	if gc.ResponseMIMEType == "application/json" {
		g.ResponseFormat = &ir.ResponseFormat{Type: ir.ResponseFormatJSONObject}
		if schema, ok := gc.ResponseJsonSchema.(map[string]any); ok {
			g.ResponseFormat.Type = ir.ResponseFormatJSONSchema
			g.ResponseFormat.Schema = schema
		}
	}
	if tc := gc.ThinkingConfig; tc != nil && tc.IncludeThoughts {
		g.Reasoning = &ir.Reasoning{Enabled: true}
		if tc.ThinkingBudget != nil {
			budget := int64(*tc.ThinkingBudget)
			g.Reasoning.BudgetTokens = &budget
		}
	}
	return g
}

func (g googleAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("google: request has no model")
	}
	out := gemini.GenerateContentRequest{}
	if req.System != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		role := "user"
		if msg.Role == ir.RoleAssistant {
			role = "model"
		}
		content := genai.Content{Role: role}
		if msg.ReasoningContent != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.ReasoningContent, Thought: true})
		}
		for _, p := range msg.Content {
			part, err := partToGoogle(p)
			if err != nil {
				return nil, err
			}
			content.Parts = append(content.Parts, part)
		}
		out.Contents = append(out.Contents, content)
	}

	var tool genai.Tool
	for _, t := range req.Tools {
		tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		})
	}
	if req.Generation.WebSearch {
		tool.GoogleSearch = &genai.GoogleSearch{}
	}
	if tool.FunctionDeclarations != nil || tool.GoogleSearch != nil {
		out.Tools = []genai.Tool{tool}
	}
	if tc := req.ToolChoice; tc != nil {
		fcc := &genai.FunctionCallingConfig{}
		switch tc.Mode {
		case ir.ToolChoiceRequired:
			fcc.Mode = genai.FunctionCallingConfigModeAny
		case ir.ToolChoiceNone:
			fcc.Mode = genai.FunctionCallingConfigModeNone
		case ir.ToolChoiceFunction:
			fcc.Mode = genai.FunctionCallingConfigModeAny
			fcc.AllowedFunctionNames = []string{tc.FunctionName}
		default:
			fcc.Mode = genai.FunctionCallingConfigModeAuto
		}
		out.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: fcc}
	}

	out.GenerationConfig = generationToGoogle(req.Generation)
	return json.Marshal(&out)
}

func partToGoogle(p ir.ContentPart) (*genai.Part, error) {
	switch p.Type {
	case ir.PartText:
		return &genai.Part{Text: p.Text}, nil
	case ir.PartImage, ir.PartAudio, ir.PartVideo:
		ref := p.Image
		if p.Type == ir.PartAudio {
			ref = p.Audio
		} else if p.Type == ir.PartVideo {
			ref = p.Video
		}
		if ref.Kind == ir.MediaURL {
			return &genai.Part{FileData: &genai.FileData{FileURI: ref.URL, MIMEType: ref.MediaType}}, nil
		}
		raw, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 media payload: %w", err)
		}
		return &genai.Part{InlineData: &genai.Blob{MIMEType: ref.MediaType, Data: raw}}, nil
	case ir.PartToolUse:
		var args map[string]any
		if p.ToolUse.Arguments != "" {
			if err := json.Unmarshal([]byte(p.ToolUse.Arguments), &args); err != nil {
				return nil, fmt.Errorf("invalid tool arguments: %w", err)
			}
		}
		return &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   p.ToolUse.ID,
			Name: p.ToolUse.Name,
			Args: args,
		}}, nil
	case ir.PartToolResult:
		var response map[string]any
		if err := json.Unmarshal([]byte(p.ToolResult.Content), &response); err != nil {
			// Plain-text tool output is wrapped per the API convention.
			response = map[string]any{"output": p.ToolResult.Content}
		}
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       p.ToolResult.ToolUseID,
			Name:     p.ToolResult.ToolUseID,
			Response: response,
		}}, nil
	default:
		return &genai.Part{Text: degradeToText(p).Text}, nil
	}
}

func generationToGoogle(g ir.GenerationParams) *genai.GenerationConfig {
	gc := &genai.GenerationConfig{StopSequences: g.StopSequences}
	if g.Temperature != nil {
		t := float32(*g.Temperature)
		gc.Temperature = &t
	}
	if g.TopP != nil {
		t := float32(*g.TopP)
		gc.TopP = &t
	}
	if g.MaxTokens != nil {
		gc.MaxOutputTokens = int32(*g.MaxTokens) //nolint:gosec
	}
	if g.PresencePenalty != nil {
		p := float32(*g.PresencePenalty)
		gc.PresencePenalty = &p
	}
	if g.FrequencyPenalty != nil {
		p := float32(*g.FrequencyPenalty)
		gc.FrequencyPenalty = &p
	}
	if g.Seed != nil {
		s := int32(*g.Seed) //nolint:gosec
		gc.Seed = &s
	}
	if rf := g.ResponseFormat; rf != nil && rf.Type != ir.ResponseFormatText {
		gc.ResponseMIMEType = "application/json"
		if rf.Type == ir.ResponseFormatJSONSchema {
			gc.ResponseJsonSchema = rf.Schema
		}
	}
	if r := g.Reasoning; r != nil && r.Enabled {
		gc.ThinkingConfig = &genai.GenerationConfigThinkingConfig{IncludeThoughts: true}
		if r.BudgetTokens != nil {
			budget := int32(*r.BudgetTokens) //nolint:gosec
			gc.ThinkingConfig.ThinkingBudget = &budget
		}
	}
	return gc
}

func (g googleAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("invalid google response: %w", err)
	}
	out := &ir.Response{
		ID:    resp.ResponseID,
		Model: resp.ModelVersion,
		Usage: usageFromGoogle(resp.UsageMetadata),
		Raw:   wire,
	}
	for i, cand := range resp.Candidates {
		choice := ir.Choice{
			Index:        i,
			FinishReason: finishReasonFromGoogle(cand.FinishReason),
		}
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				switch {
				case p.Text != "" && p.Thought:
					choice.Message.ReasoningContent = appendSystem(choice.Message.ReasoningContent, p.Text)
				case p.Text != "":
					choice.Message.Content = append(choice.Message.Content, ir.TextPart(p.Text))
				case p.FunctionCall != nil:
					args, err := json.Marshal(p.FunctionCall.Args)
					if err != nil {
						return nil, fmt.Errorf("invalid functionCall args: %w", err)
					}
					choice.Message.ToolCalls = append(choice.Message.ToolCalls, ir.ToolCall{
						ID:        p.FunctionCall.ID,
						Name:      p.FunctionCall.Name,
						Arguments: string(args),
					})
				}
			}
		}
		out.Choices = append(out.Choices, choice)
	}
	return out, nil
}

func (g googleAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	out := gemini.GenerateContentResponse{
		ResponseID:   resp.ID,
		ModelVersion: resp.Model,
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:     int32(resp.Usage.PromptTokens),     //nolint:gosec
			CandidatesTokenCount: int32(resp.Usage.CompletionTokens), //nolint:gosec
			TotalTokenCount:      int32(resp.Usage.TotalTokens),      //nolint:gosec
		},
	}
	for _, c := range resp.Choices {
		content := &genai.Content{Role: "model"}
		if c.Message.ReasoningContent != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: c.Message.ReasoningContent, Thought: true})
		}
		if text := c.Message.Text(); text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: text})
		}
		for _, tc := range c.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   tc.ID,
				Name: tc.Name,
				Args: args,
			}})
		}
		out.Candidates = append(out.Candidates, &gemini.Candidate{
			Index:        int32(c.Index), //nolint:gosec
			Content:      content,
			FinishReason: finishReasonToGoogle(c.FinishReason),
		})
	}
	return json.Marshal(&out)
}

func usageFromGoogle(u *gemini.UsageMetadata) ir.Usage {
	if u == nil {
		return ir.Usage{}
	}
	return ir.Usage{
		PromptTokens:     uint32(u.PromptTokenCount),     //nolint:gosec
		CompletionTokens: uint32(u.CandidatesTokenCount), //nolint:gosec
		TotalTokens:      uint32(u.TotalTokenCount),      //nolint:gosec
	}
}

func finishReasonFromGoogle(reason genai.FinishReason) ir.FinishReason {
	switch reason {
	case gemini.FinishReasonMaxTokens:
		return ir.FinishLength
	case gemini.FinishReasonSafety, gemini.FinishReasonRecitation, gemini.FinishReasonProhibitedContent:
		return ir.FinishContentFilter
	default:
		return ir.FinishStop
	}
}

func finishReasonToGoogle(reason ir.FinishReason) genai.FinishReason {
	switch reason {
	case ir.FinishLength:
		return gemini.FinishReasonMaxTokens
	case ir.FinishContentFilter:
		return gemini.FinishReasonSafety
	default:
		// Gemini has no tool_calls finish reason; calls end with STOP.
		return gemini.FinishReasonStop
	}
}

// googleErrorStatuses maps google.rpc.Code names to canonical kinds.
var googleErrorStatuses = map[string]ir.ErrorKind{
	"INVALID_ARGUMENT":    ir.ErrorKindValidation,
	"FAILED_PRECONDITION": ir.ErrorKindValidation,
	"UNAUTHENTICATED":     ir.ErrorKindAuthentication,
	"PERMISSION_DENIED":   ir.ErrorKindPermission,
	"NOT_FOUND":           ir.ErrorKindNotFound,
	"RESOURCE_EXHAUSTED":  ir.ErrorKindRateLimit,
	"INTERNAL":            ir.ErrorKindServer,
	"UNAVAILABLE":         ir.ErrorKindServer,
	"DEADLINE_EXCEEDED":   ir.ErrorKindServer,
}

func (g googleAdapter) ParseError(status int, body []byte) *ir.Error {
	out := &ir.Error{Kind: ir.ErrorKindUnknown, StatusCode: status, Raw: body}
	var resp gemini.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
		out.Message = string(body)
		out.Kind = errorKindFromStatus(status)
		return out
	}
	out.Message = resp.Error.Message
	out.Code = resp.Error.Status
	if kind, ok := googleErrorStatuses[resp.Error.Status]; ok {
		out.Kind = kind
	} else {
		out.Kind = errorKindFromStatus(status)
	}
	return out
}
