// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentUnion(t *testing.T) {
	var req ChatCompletionRequest
	err := json.Unmarshal([]byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [
				{"type": "text", "text": "what is this?"},
				{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}}
			]},
			{"role": "assistant", "content": null}
		]
	}`), &req)
	require.NoError(t, err)

	require.False(t, req.Messages[0].Content.IsParts())
	require.Equal(t, "be brief", req.Messages[0].Content.Text)

	require.True(t, req.Messages[1].Content.IsParts())
	require.Len(t, req.Messages[1].Content.Parts, 2)
	require.Equal(t, ContentPartTypeImageURL, req.Messages[1].Content.Parts[1].Type)

	require.False(t, req.Messages[2].Content.IsParts())
	require.Empty(t, req.Messages[2].Content.Text)

	// String content marshals back as a string, not a one-part array.
	out, err := json.Marshal(req.Messages[0].Content)
	require.NoError(t, err)
	require.JSONEq(t, `"be brief"`, string(out))
}

func TestStringOrArray(t *testing.T) {
	var s StringOrArray
	require.NoError(t, json.Unmarshal([]byte(`"STOP"`), &s))
	require.Equal(t, []string{"STOP"}, s.Values)

	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &s))
	require.Equal(t, []string{"a", "b"}, s.Values)

	require.Error(t, json.Unmarshal([]byte(`42`), &s))

	out, err := json.Marshal(StringOrArray{Values: []string{"one"}})
	require.NoError(t, err)
	require.JSONEq(t, `"one"`, string(out))

	// stop is omitted entirely when unset.
	body, err := json.Marshal(ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	require.NotContains(t, string(body), `"stop"`)
}

func TestToolChoiceUnion(t *testing.T) {
	var mode ToolChoiceUnion
	require.NoError(t, json.Unmarshal([]byte(`"auto"`), &mode))
	require.Equal(t, "auto", mode.Mode)
	require.Empty(t, mode.Function)

	var named ToolChoiceUnion
	require.NoError(t, json.Unmarshal([]byte(`{"type":"function","function":{"name":"lookup"}}`), &named))
	require.Empty(t, named.Mode)
	require.Equal(t, "lookup", named.Function)

	out, err := json.Marshal(&ToolChoiceUnion{Mode: "required"})
	require.NoError(t, err)
	require.JSONEq(t, `"required"`, string(out))

	out, err = json.Marshal(&ToolChoiceUnion{Function: "lookup"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"function","function":{"name":"lookup"}}`, string(out))
}
