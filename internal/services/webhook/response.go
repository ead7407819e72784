package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/company-assistant-go/internal/models"
)

// Field names accepted for each canonical SourceItem field, in order of
// preference. The first group of each list is the current shape; the
// rest come from older webhook flows that sent {title, url, snippet}.
var (
	sourceFieldKeys = []string{"source", "title", "url"}
	textFieldKeys   = []string{"text", "snippet"}
	chunkFieldKeys  = []string{"chunk"}
	scoreFieldKeys  = []string{"score"}
)

// webhookReply is the decoded body of a 2xx webhook response
type webhookReply struct {
	Answer  string
	Sources []models.SourceItem
	// Error is the error reported in the body, if any
	Error    string
	HasError bool
}

// decodeReply parses a 2xx body. Accepted envelopes: a JSON object
// {answer, sources, error}, or an array whose first element is such an
// object (n8n "respond with all items"). ok is false when the body is
// not one of those.
func decodeReply(body []byte) (webhookReply, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return webhookReply{Sources: []models.SourceItem{}}, false
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil || len(items) == 0 {
			return webhookReply{Sources: []models.SourceItem{}}, false
		}
		body = bytes.TrimSpace(items[0])
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		return webhookReply{Sources: []models.SourceItem{}}, false
	}

	reply := webhookReply{
		Sources: decodeSources(envelope["sources"]),
	}
	if raw, ok := envelope["answer"]; ok {
		var answer string
		if err := json.Unmarshal(raw, &answer); err == nil {
			reply.Answer = answer
		}
	}
	if raw, ok := envelope["error"]; ok && !isNull(raw) {
		reply.HasError = true
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			reply.Error = text
		} else {
			reply.Error = string(bytes.TrimSpace(raw))
		}
	}
	return reply, true
}

// decodeSources normalizes the sources array. Each element may be a
// canonical object, a legacy object or a bare string naming the source.
// Anything that is not an array yields an empty list.
func decodeSources(raw json.RawMessage) []models.SourceItem {
	sources := []models.SourceItem{}
	if len(raw) == 0 || isNull(raw) {
		return sources
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return sources
	}

	for _, item := range items {
		if source, ok := decodeSource(item); ok {
			sources = append(sources, source)
		}
	}
	return sources
}

func decodeSource(raw json.RawMessage) (models.SourceItem, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return models.SourceItem{}, false
	}

	switch raw[0] {
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil || name == "" {
			return models.SourceItem{}, false
		}
		return models.SourceItem{Source: name}, true
	case '{':
	default:
		return models.SourceItem{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.SourceItem{}, false
	}

	item := models.SourceItem{
		Source: firstString(fields, sourceFieldKeys),
		Text:   firstString(fields, textFieldKeys),
		Chunk:  firstChunk(fields, chunkFieldKeys),
		Score:  firstNumber(fields, scoreFieldKeys),
	}
	if item.Source == "" && item.Text == "" && item.Chunk == nil && item.Score == nil {
		return models.SourceItem{}, false
	}
	return item, true
}

func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func firstChunk(fields map[string]json.RawMessage, keys []string) *models.Chunk {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		var chunk models.Chunk
		if err := json.Unmarshal(raw, &chunk); err == nil {
			return &chunk
		}
	}
	return nil
}

func firstNumber(fields map[string]json.RawMessage, keys []string) *float64 {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return &n
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
