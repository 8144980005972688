package provider

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"github.com/erg0nix/glance/internal/core"
)

// endpoint returns the URL for a generation call against the configured provider.
func (c *Client) endpoint(stream bool) string {
	if c.cfg.Name == NameGemini {
		method := ":generateContent"
		if stream {
			method = ":streamGenerateContent?alt=sse"
		}
		return c.cfg.BaseURL + "/v1beta/models/" + url.PathEscape(c.cfg.Model) + method
	}

	if strings.HasSuffix(c.cfg.BaseURL, "/v1") {
		return c.cfg.BaseURL + "/chat/completions"
	}
	return c.cfg.BaseURL + "/v1/chat/completions"
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.cfg.APIKey == "" {
		return h
	}

	if c.cfg.Name == NameGemini {
		h["x-goog-api-key"] = c.cfg.APIKey
	} else {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

func (c *Client) buildPayload(req Request, jsonMode, stream bool) map[string]any {
	if c.cfg.Name == NameGemini {
		return c.geminiPayload(req, jsonMode)
	}
	return c.openAIPayload(req, jsonMode, stream)
}

func (c *Client) openAIPayload(req Request, jsonMode, stream bool) map[string]any {
	content := []map[string]any{{"type": "text", "text": req.Prompt}}
	for _, img := range req.Images {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:" + img.mimeType() + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	payload := map[string]any{
		"model":       c.cfg.Model,
		"messages":    []map[string]any{{"role": "user", "content": content}},
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
		"stream":      stream,
	}

	if stream {
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	if jsonMode {
		payload["response_format"] = map[string]any{"type": "json_object"}
	}

	return payload
}

func (c *Client) geminiPayload(req Request, jsonMode bool) map[string]any {
	parts := []map[string]any{{"text": req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{
				"mime_type": img.mimeType(),
				"data":      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	generation := map[string]any{
		"maxOutputTokens": c.cfg.MaxTokens,
		"temperature":     c.cfg.Temperature,
	}
	if jsonMode {
		generation["responseMimeType"] = "application/json"
	}

	return map[string]any{
		"contents":         []map[string]any{{"role": "user", "parts": parts}},
		"generationConfig": generation,
	}
}

// parsePayload extracts text and usage from a complete response body.
func (c *Client) parsePayload(payload map[string]any) (Response, error) {
	if c.cfg.Name == NameGemini {
		text, ok := geminiText(payload)
		if !ok {
			return Response{}, errors.New("no candidates in response")
		}
		return Response{Text: text, Usage: geminiUsage(payload)}, nil
	}

	choices, ok := payload["choices"].([]any)
	if !ok || len(choices) == 0 {
		return Response{}, errors.New("no choices in response")
	}

	choice, ok := choices[0].(map[string]any)
	if !ok {
		return Response{}, errors.New("malformed choice in response")
	}

	message, ok := choice["message"].(map[string]any)
	if !ok {
		return Response{}, errors.New("malformed message in response")
	}

	content, _ := message["content"].(string)

	return Response{Text: content, Usage: openAIUsage(payload)}, nil
}

// parseEvent extracts the text fragment and usage carried by one stream event.
func (c *Client) parseEvent(payload map[string]any) (string, *Usage) {
	if c.cfg.Name == NameGemini {
		text, _ := geminiText(payload)
		return text, geminiUsage(payload)
	}

	var fragment string
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if delta, ok := choice["delta"].(map[string]any); ok {
				fragment, _ = delta["content"].(string)
			}
		}
	}

	return fragment, openAIUsage(payload)
}

func geminiText(payload map[string]any) (string, bool) {
	candidates, ok := payload["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return "", false
	}

	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return "", false
	}

	content, ok := candidate["content"].(map[string]any)
	if !ok {
		return "", true
	}

	parts, _ := content["parts"].([]any)
	var sb strings.Builder
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			sb.WriteString(text)
		}
	}

	return sb.String(), true
}

func openAIUsage(payload map[string]any) *Usage {
	usageMap, ok := payload["usage"].(map[string]any)
	if !ok {
		return nil
	}

	return &Usage{
		PromptTokens:     core.IntFromAny(usageMap["prompt_tokens"]),
		CompletionTokens: core.IntFromAny(usageMap["completion_tokens"]),
		TotalTokens:      core.IntFromAny(usageMap["total_tokens"]),
	}
}

func geminiUsage(payload map[string]any) *Usage {
	usageMap, ok := payload["usageMetadata"].(map[string]any)
	if !ok {
		return nil
	}

	return &Usage{
		PromptTokens:     core.IntFromAny(usageMap["promptTokenCount"]),
		CompletionTokens: core.IntFromAny(usageMap["candidatesTokenCount"]),
		TotalTokens:      core.IntFromAny(usageMap["totalTokenCount"]),
	}
}
