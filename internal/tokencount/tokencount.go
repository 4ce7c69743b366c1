// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package tokencount estimates token counts for responses whose
// upstream reported no usage, so the log and metric sinks always carry
// numbers.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// cl100k_base is close enough across the supported dialects for
// accounting purposes; exact counts only the upstream knows.
const encodingName = "cl100k_base"

var (
	once    sync.Once
	encoder *tiktoken.Tiktoken
)

// Estimate returns the approximate token count of text. When the
// encoding cannot be loaded it falls back to the classic len/4 heuristic.
func Estimate(text string) uint32 {
	if text == "" {
		return 0
	}
	once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return uint32(len(text)+3) / 4 // #nosec G115 -- length bounded by body limits
	}
	return uint32(len(encoder.Encode(text, nil, nil))) // #nosec G115
}
