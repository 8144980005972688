// Package observation decodes provider response text into observations.
package observation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/erg0nix/glance/internal/core"
)

type Kind string

const (
	KindObservations Kind = "observations"
	KindItems        Kind = "items"
)

var ErrUnknownShape = errors.New("unknown response shape")

// ParseError carries the raw text that failed to decode.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse provider response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Observation struct {
	StartTs     int64           `json:"start_ts"`
	EndTs       int64           `json:"end_ts"`
	Text        string          `json:"text"`
	ContextType string          `json:"context_type,omitempty"`
	Entities    json.RawMessage `json:"entities,omitempty"`
}

type Response struct {
	Kind         Kind
	Observations []Observation
}

// timestamp accepts unix seconds as a JSON number or numeric string. Anything else decodes as zero,
// which WithBounds treats as missing.
type timestamp int64

func (t *timestamp) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		*t = 0
		return nil
	}

	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*t = 0
			return nil
		}
		v = f
	}

	*t = timestamp(core.Int64FromAny(v))
	return nil
}

type observationEntry struct {
	StartTs     timestamp       `json:"start_ts"`
	EndTs       timestamp       `json:"end_ts"`
	Text        string          `json:"text"`
	Observation string          `json:"observation"`
	ContextType string          `json:"context_type"`
	Entities    json.RawMessage `json:"entities"`
}

type itemEntry struct {
	StartTs     timestamp       `json:"start_ts"`
	EndTs       timestamp       `json:"end_ts"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Entities    json.RawMessage `json:"entities"`
}

type envelope struct {
	Observations *[]observationEntry `json:"observations"`
	Items        *[]itemEntry        `json:"items"`
}

// Parse decodes text as one of the known response shapes. Markdown code fences around the JSON are
// ignored. Text that is not JSON or matches neither shape yields a *ParseError.
func Parse(text string) (Response, error) {
	body := stripFences(text)
	if body == "" {
		return Response{}, &ParseError{Text: text, Err: fmt.Errorf("%w: empty response", ErrUnknownShape)}
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Response{}, &ParseError{Text: text, Err: fmt.Errorf("%w: %v", ErrUnknownShape, err)}
	}

	switch {
	case env.Observations != nil:
		out := make([]Observation, 0, len(*env.Observations))
		for _, e := range *env.Observations {
			content := e.Text
			if content == "" {
				content = e.Observation
			}
			if strings.TrimSpace(content) == "" {
				continue
			}
			out = append(out, Observation{
				StartTs:     int64(e.StartTs),
				EndTs:       int64(e.EndTs),
				Text:        content,
				ContextType: e.ContextType,
				Entities:    compactEntities(e.Entities),
			})
		}
		return Response{Kind: KindObservations, Observations: out}, nil

	case env.Items != nil:
		out := make([]Observation, 0, len(*env.Items))
		for _, e := range *env.Items {
			content := itemText(e)
			if content == "" {
				continue
			}
			out = append(out, Observation{
				StartTs:     int64(e.StartTs),
				EndTs:       int64(e.EndTs),
				Text:        content,
				ContextType: e.Category,
				Entities:    compactEntities(e.Entities),
			})
		}
		return Response{Kind: KindItems, Observations: out}, nil
	}

	return Response{}, &ParseError{Text: text, Err: ErrUnknownShape}
}

func itemText(e itemEntry) string {
	details := e.Summary
	if details == "" {
		details = e.Description
	}

	switch {
	case e.Title != "" && details != "":
		return e.Title + ": " + details
	case e.Title != "":
		return e.Title
	default:
		return strings.TrimSpace(details)
	}
}

// WithBounds fills missing or out-of-range observation bounds from the chunk bounds.
func (r Response) WithBounds(startTs, endTs int64) Response {
	out := make([]Observation, len(r.Observations))
	for i, o := range r.Observations {
		if o.StartTs < startTs || o.StartTs > endTs {
			o.StartTs = startTs
		}
		if o.EndTs < o.StartTs || o.EndTs > endTs {
			o.EndTs = endTs
		}
		out[i] = o
	}

	r.Observations = out
	return r
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

func compactEntities(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil
	}
	return buf.Bytes()
}
