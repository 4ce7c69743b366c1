// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

// The OpenAI-compatible dialects share the Chat Completions wire format
// and differ only in endpoints, capabilities, and a few private request
// options handled in openAI.applyExtensions.

func init() {
	// https://api-docs.deepseek.com
	register(openAI{
		name:       NameDeepSeek,
		version:    "v1",
		baseURL:    "https://api.deepseek.com",
		chatPath:   "/v1/chat/completions",
		modelsPath: "/v1/models",
		caps: Capabilities{
			Streaming: true, Tools: true, SystemPrompt: true,
			ToolChoice: true, Reasoning: true, JSONMode: true,
			Logprobs: true,
		},
	})

	// https://platform.moonshot.cn/docs/api/chat
	register(openAI{
		name:       NameMoonshot,
		version:    "v1",
		baseURL:    "https://api.moonshot.cn",
		chatPath:   "/v1/chat/completions",
		modelsPath: "/v1/models",
		caps: Capabilities{
			Streaming: true, Tools: true, Vision: true,
			SystemPrompt: true, ToolChoice: true, JSONMode: true,
		},
	})

	// https://help.aliyun.com/zh/model-studio/compatibility-of-openai-with-dashscope
	register(openAI{
		name:       NameQwen,
		version:    "v1",
		baseURL:    "https://dashscope.aliyuncs.com/compatible-mode",
		chatPath:   "/v1/chat/completions",
		modelsPath: "/v1/models",
		caps: Capabilities{
			Streaming: true, Tools: true, Vision: true, Multimodal: true,
			SystemPrompt: true, ToolChoice: true, Reasoning: true,
			WebSearch: true, JSONMode: true,
		},
	})

	// https://docs.bigmodel.cn/api-reference
	register(openAI{
		name:       NameZhipu,
		version:    "v4",
		baseURL:    "https://open.bigmodel.cn/api/paas/v4",
		chatPath:   "/chat/completions",
		modelsPath: "/models",
		caps: Capabilities{
			Streaming: true, Tools: true, Vision: true,
			SystemPrompt: true, ToolChoice: true, WebSearch: true,
			JSONMode: true,
		},
	})
}
