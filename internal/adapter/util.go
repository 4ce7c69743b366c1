// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/isboyjc/amux/internal/ir"
)

const (
	mimeTypeImageJPEG = "image/jpeg"
	mimeTypeImagePNG  = "image/png"
)

// regDataURI follows the web uri regex definition.
// https://developer.mozilla.org/en-US/docs/Web/URI/Schemes/data#syntax
var regDataURI = regexp.MustCompile(`\Adata:(.+?)?(;base64)?,`)

// parseDataURI splits a data uri, e.g. data:image/jpeg;base64,/9j/4AAQ...,
// into its media type and base64 payload. The payload is kept encoded;
// dialects that want raw bytes decode at their own boundary.
func parseDataURI(uri string) (mediaType, data string, ok bool) {
	matches := regDataURI.FindStringSubmatch(uri)
	if len(matches) != 3 || matches[2] != ";base64" {
		return "", "", false
	}
	mt := matches[1]
	if mt == "" {
		mt = "text/plain"
	}
	return mt, uri[len(matches[0]):], true
}

// imageRefFromURL normalizes an image URL field: data URIs become inline
// base64 references, anything else a fetchable URL reference.
func imageRefFromURL(url string) *ir.MediaRef {
	if mt, data, ok := parseDataURI(url); ok {
		return &ir.MediaRef{Kind: ir.MediaBase64, MediaType: mt, Data: data}
	}
	return &ir.MediaRef{Kind: ir.MediaURL, URL: url}
}

// dataURIFromRef renders a media reference as a URL: base64 references
// become data URIs, URL references pass through.
func dataURIFromRef(ref *ir.MediaRef) string {
	if ref.Kind == ir.MediaBase64 {
		return fmt.Sprintf("data:%s;base64,%s", ref.MediaType, ref.Data)
	}
	return ref.URL
}

// degradeToText renders a content part a target dialect cannot express as
// a text part, the last-resort rule for cross-dialect conversion.
func degradeToText(p ir.ContentPart) ir.ContentPart {
	var desc string
	switch p.Type {
	case ir.PartImage:
		desc = fmt.Sprintf("[image: %s]", mediaRefLabel(p.Image))
	case ir.PartAudio:
		desc = fmt.Sprintf("[audio: %s]", mediaRefLabel(p.Audio))
	case ir.PartVideo:
		desc = fmt.Sprintf("[video: %s]", mediaRefLabel(p.Video))
	default:
		desc = p.Text
	}
	return ir.TextPart(desc)
}

func mediaRefLabel(ref *ir.MediaRef) string {
	if ref == nil {
		return "unknown"
	}
	if ref.Kind == ir.MediaURL {
		return ref.URL
	}
	return ref.MediaType
}

// appendSystem concatenates another lifted system message onto the
// accumulated prompt, newline-joined.
func appendSystem(system, text string) string {
	if system == "" {
		return text
	}
	if text == "" {
		return system
	}
	return system + "\n" + text
}

// SplitProviderModel splits a `<adapterType>/<model>` identifier. ok is
// false when the prefix is not a registered dialect name.
func SplitProviderModel(model string) (adapterType, bare string, ok bool) {
	before, after, found := strings.Cut(model, "/")
	if !found || after == "" {
		return "", model, false
	}
	if _, registered := ForName(before); !registered {
		return "", model, false
	}
	return before, after, true
}
