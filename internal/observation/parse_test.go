package observation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObservations(t *testing.T) {
	text := "```json\n" +
		`{"observations":[` +
		`{"start_ts":100,"end_ts":160,"text":"Editing parser.go","context_type":"coding","entities":{ "files": ["parser.go"] }},` +
		`{"start_ts":160,"end_ts":200,"observation":"Reading docs"},` +
		`{"start_ts":200,"end_ts":210,"text":"   "}` +
		`]}` + "\n```"

	resp, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, KindObservations, resp.Kind)
	require.Len(t, resp.Observations, 2)
	assert.Equal(t, Observation{
		StartTs:     100,
		EndTs:       160,
		Text:        "Editing parser.go",
		ContextType: "coding",
		Entities:    []byte(`{"files":["parser.go"]}`),
	}, resp.Observations[0])
	assert.Equal(t, "Reading docs", resp.Observations[1].Text)
	assert.Nil(t, resp.Observations[1].Entities)
}

func TestParseItems(t *testing.T) {
	resp, err := Parse(`{"items":[{"title":"Code review","summary":"Reviewed PR 42","category":"coding"},{"description":"Slack catch-up"}]}`)
	require.NoError(t, err)

	assert.Equal(t, KindItems, resp.Kind)
	require.Len(t, resp.Observations, 2)
	assert.Equal(t, "Code review: Reviewed PR 42", resp.Observations[0].Text)
	assert.Equal(t, "coding", resp.Observations[0].ContextType)
	assert.Equal(t, "Slack catch-up", resp.Observations[1].Text)
}

func TestParseEmptyListIsValid(t *testing.T) {
	resp, err := Parse(`{"observations":[]}`)
	require.NoError(t, err)

	assert.Equal(t, KindObservations, resp.Kind)
	assert.Empty(t, resp.Observations)
}

func TestParseRejectsUnknownShapes(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"fence only", "```json\n```"},
		{"prose", "Sorry, I cannot help with that."},
		{"other object", `{"summary":"nothing here"}`},
		{"array", `[{"text":"x"}]`},
		{"truncated", `{"observations":[{"text":"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.text, parseErr.Text)
			assert.ErrorIs(t, err, ErrUnknownShape)
		})
	}
}

func TestParseLenientTimestamps(t *testing.T) {
	tests := []struct {
		name string
		text string
		want [2]int64
	}{
		{"float", `{"observations":[{"start_ts":1000.0,"end_ts":2000,"text":"coding"}]}`, [2]int64{1000, 2000}},
		{"numeric string", `{"observations":[{"start_ts":"1000","end_ts":" 2000 ","text":"coding"}]}`, [2]int64{1000, 2000}},
		{"clock string", `{"observations":[{"start_ts":"10:05","end_ts":"10:20","text":"coding"}]}`, [2]int64{0, 0}},
		{"null and object", `{"observations":[{"start_ts":null,"end_ts":{"at":5},"text":"coding"}]}`, [2]int64{0, 0}},
		{"items float", `{"items":[{"start_ts":1500.7,"end_ts":"1800","title":"coding"}]}`, [2]int64{1500, 1800}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Parse(tt.text)
			require.NoError(t, err)
			require.Len(t, resp.Observations, 1)
			assert.Equal(t, "coding", resp.Observations[0].Text)
			assert.Equal(t, [][2]int64{tt.want}, bounds(resp))
		})
	}

	resp, err := Parse(`{"observations":[{"start_ts":"10:05","end_ts":"10:20","text":"coding"}]}`)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{1000, 2000}}, bounds(resp.WithBounds(1000, 2000)), "unparseable bounds are filled from the chunk")
}

func TestWithBounds(t *testing.T) {
	resp := Response{Kind: KindObservations, Observations: []Observation{
		{Text: "no bounds"},
		{StartTs: 150, EndTs: 180, Text: "inside"},
		{StartTs: 150, Text: "missing end"},
		{StartTs: 50, EndTs: 999, Text: "outside"},
	}}

	bounded := resp.WithBounds(100, 200)

	assert.Equal(t, [][2]int64{{100, 200}, {150, 180}, {150, 200}, {100, 200}}, bounds(bounded))
	assert.Zero(t, resp.Observations[0].StartTs, "original response is not modified")
}

func bounds(r Response) [][2]int64 {
	out := make([][2]int64, 0, len(r.Observations))
	for _, o := range r.Observations {
		out = append(out, [2]int64{o.StartTs, o.EndTs})
	}
	return out
}
