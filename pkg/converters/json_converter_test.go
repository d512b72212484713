package converters

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentdoc "github.com/feichai0017/manual-retrieval/internal/agent/document"
	"github.com/feichai0017/manual-retrieval/internal/models"
)

func TestConvert(t *testing.T) {
	doc, err := NewJSONConverter().Convert(&agentdoc.Result{
		Text:      "ENGINE FIRE\n\nLAND ASAP",
		Title:     "A320 QRH",
		Author:    "Flight Ops",
		PageCount: 2,
		Method:    models.MethodHybrid,
		Pages: []agentdoc.PageText{
			{PageNumber: 1, Text: "ENGINE FIRE", Chars: 11, TextDensity: 0.00002, NeedsFallback: true},
			{PageNumber: 2, Text: "LAND ASAP", Chars: 9, TextDensity: 0.00001, NeedsFallback: true, FallbackUsed: true},
		},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ENGINE FIRE\n\nLAND ASAP", body["content"])

	md := body["metadata"].(map[string]any)
	assert.EqualValues(t, 2, md["pages"])
	assert.Equal(t, "A320 QRH", md["title"])
	assert.Equal(t, "Flight Ops", md["author"])
	assert.Equal(t, "hybrid", md["processingMethod"])

	details := md["pageDetails"].([]any)
	require.Len(t, details, 2)
	second := details[1].(map[string]any)
	assert.EqualValues(t, 2, second["pageNumber"])
	assert.Equal(t, true, second["ocrUsed"])
	assert.NotContains(t, second, "text", "page text is only returned as content")
}

func TestConvertNil(t *testing.T) {
	_, err := NewJSONConverter().Convert(nil)
	assert.Error(t, err)
}
